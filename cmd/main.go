package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"stable-action/controller"
	"stable-action/models"
	"stable-action/services/fusion"
	"stable-action/services/ingest"
	"stable-action/services/library"
	"stable-action/services/mux"
	"stable-action/services/preview"
	"stable-action/services/transform"
	"stable-action/utils"
	"stable-action/views"
)

func main() {
	// ── CLI flags ────────────────────────────────────────────────────
	configPath := flag.String("config", "config/stabilizer.yaml", "path to stabilizer.yaml")
	storagePath := flag.String("storage", "config/storage.yaml", "path to storage.yaml")
	logFile := flag.String("log", "", "optional log file path")
	logLevel := flag.String("log-level", "", "debug|info|warn|error (overrides config)")
	useTUI := flag.Bool("tui", false, "run the terminal viewfinder")
	httpAddr := flag.String("http", "", "serve the control API on this address, e.g. :8080")
	recordFor := flag.Duration("record-for", 0, "record immediately for this long, then exit")
	motionLog := flag.String("motion-log", "", "also write raw motion samples to this CSV (\"auto\" names it under base_dir)")
	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────
	logger := utils.InitLogger(utils.INFO, *logFile, *useTUI)
	defer logger.Close()

	utils.L().Info("═══════════════════════════════════════════════════")
	utils.L().Info("  stable-action  ·  real-time video stabilization")
	utils.L().Info("  GOMAXPROCS=%d  ·  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	utils.L().Info("═══════════════════════════════════════════════════")

	// ── Load configs ─────────────────────────────────────────────────
	cfg, err := utils.LoadStabilizerConfig(*configPath)
	if err != nil {
		utils.L().Fatal("load stabilizer config: %v", err)
	}
	storageCfg, err := utils.LoadStorageConfig(*storagePath)
	if err != nil {
		utils.L().Fatal("load storage config: %v", err)
	}

	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if lvl, err := utils.ParseLogLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		utils.L().Warn("%v, keeping INFO", err)
	}

	// Resolve relative base_dir to absolute.
	if !filepath.IsAbs(storageCfg.Storage.BaseDir) {
		abs, _ := filepath.Abs(storageCfg.Storage.BaseDir)
		storageCfg.Storage.BaseDir = abs
	}
	if err := os.MkdirAll(storageCfg.Storage.TempDir, 0o755); err != nil {
		utils.L().Fatal("temp dir: %v", err)
	}

	// ── Context with OS signal cancellation ──────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ── Pipeline assembly ────────────────────────────────────────────
	//
	//  motion source ──► FusionController ──► PoseCell ◄── snapshot per frame
	//                                                         │
	//  capture source ──► CaptureController ──► Transformer ──┤
	//                          │                              ├──► preview slots ──► viewfinder / HTTP
	//                          │                              └──► RecordingSession ──► muxer ──► library
	//                          └──► pose telemetry CSV

	factory, err := mux.Lookup(storageCfg.Recording.Backend)
	if err != nil {
		utils.L().Fatal("recording backend: %v", err)
	}

	catalog, err := library.Open(storageCfg.Storage.Catalog)
	if err != nil {
		utils.L().Warn("catalog unavailable, recordings are not indexed: %v", err)
	} else {
		defer catalog.Close()
	}
	lib := library.New(storageCfg.Storage.BaseDir, catalog)

	interp, err := transform.ParseInterpolator(cfg.Transform.Interpolation)
	if err != nil {
		utils.L().Fatal("transform: %v", err)
	}
	mode, ok := transform.ParseMode(cfg.Transform.Mode)
	if !ok && cfg.Transform.Mode != "" {
		utils.L().Warn("unknown transform.mode %q, using %s", cfg.Transform.Mode, mode)
	}

	// 1. Sensors
	sensorCtrl := controller.NewSensorsController(cfg)

	// 2. Fusion
	fusionCtrl := controller.NewFusionController(fusion.ParamsFromConfig(cfg.Fusion, cfg.Motion.UpdateRateHz))
	if cfg.Motion.Enabled {
		var motion ingest.MotionSource = sensorCtrl.Motion()
		if *motionLog == "auto" {
			*motionLog = utils.MotionLogPath(storageCfg.Storage.BaseDir)
		}
		if *motionLog != "" {
			utils.L().Info("motion log → %s", *motionLog)
			logged, err := controller.NewLoggedMotion(motion, *motionLog, storageCfg.Storage.CSV)
			if err != nil {
				utils.L().Fatal("motion log: %v", err)
			}
			motion = logged
		}
		if err := fusionCtrl.Start(ctx, motion); err != nil {
			utils.L().Fatal("start fusion: %v", err)
		}
	} else {
		utils.L().Info("motion disabled, pose stays at identity")
	}

	// 3. Capture + recording
	var telemetry *controller.TelemetryRecorder
	if storageCfg.Storage.Telemetry {
		telemetry = controller.NewTelemetryRecorder(storageCfg.Storage.CSV)
	}
	session := controller.NewRecordingSession(controller.SessionConfigFrom(storageCfg, cfg.Audio), factory, lib)
	sink := preview.NewSink()
	transformer := transform.NewTransformer(transform.ConstantsFromConfig(cfg.Transform), interp)
	captureCtrl := controller.NewCaptureController(sensorCtrl, fusionCtrl, transformer, sink, session, telemetry, mode)
	if err := captureCtrl.Start(ctx); err != nil {
		utils.L().Fatal("%v", err)
	}

	// 4. Outer surfaces
	var srv *http.Server
	if *httpAddr != "" {
		hub := views.NewOverlayHub(transformer.Constants())
		go hub.Run(ctx, captureCtrl.PoseUpdates())
		srv = &http.Server{Addr: *httpAddr, Handler: views.NewRouter(captureCtrl, lib, hub)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.L().Error("http: %v", err)
			}
		}()
		utils.L().Info("control API listening on %s", *httpAddr)
	}

	var stopAfter <-chan time.Time
	if *recordFor > 0 {
		if err := captureCtrl.StartRecording(ctx); err != nil {
			utils.L().Fatal("start recording: %v", err)
		}
		stopAfter = time.After(*recordFor)
		utils.L().Info("recording will auto-stop after %s", *recordFor)
	}

	tuiDone := make(chan struct{})
	if *useTUI {
		go func() {
			defer close(tuiDone)
			vf := views.NewViewfinder(captureCtrl, sink, cfg.Display.RefreshHz, cfg.Display.Columns)
			if _, err := tea.NewProgram(vf, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil &&
				!errors.Is(err, tea.ErrProgramKilled) {
				utils.L().Error("viewfinder: %v", err)
			}
		}()
	} else {
		// headless: drain the active slot at the display cadence
		display := preview.NewDisplay(sink, captureCtrl.Mode)
		refresh := time.Second / time.Duration(cfg.Display.RefreshHz)
		go display.Run(ctx, refresh, func(*models.VideoFrame, transform.Mode) {})
		utils.L().Info("pipeline running — press Ctrl+C to stop")
	}

	// ── Stats ticker ─────────────────────────────────────────────────
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	// ── Main event loop ──────────────────────────────────────────────
loop:
	for {
		select {
		case sig := <-sigCh:
			utils.L().Info("received signal: %v — shutting down…", sig)
			break loop

		case <-tuiDone:
			break loop

		case <-captureCtrl.Done():
			break loop

		case <-stopAfter:
			if err := captureCtrl.StopRecording(ctx); err != nil {
				utils.L().Warn("stop recording: %v", err)
			}
			break loop

		case <-statsTicker.C:
			st := captureCtrl.Status()
			utils.L().Info("── stats ─────────────────────────")
			sensorCtrl.LogStats()
			utils.L().Info("  mode=%s camera=%s session=%s frames=%d motion=%d",
				st.Mode, st.Camera, st.Session, st.FramesIn, fusionCtrl.Samples())
			utils.L().Info("  appended video=%d audio=%d  dropped video=%d audio=%d display=%d",
				st.VideoAppended, st.AudioAppended, st.VideoDropped, st.AudioDropped, st.DisplayDropped)
			utils.L().Info("──────────────────────────────────")
		}
	}

	// stop recording, capture and sensors in that order
	utils.L().Info("draining pipeline…")
	captureCtrl.Stop()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		done()
	}
	cancel()

	last := captureCtrl.Status().LastRecording
	if last == "" {
		fmt.Println("\n✓ stable-action finished.")
		return
	}
	fmt.Println("\n✓ stable-action finished. Last recording:", filepath.Join(storageCfg.Storage.BaseDir, filepath.Base(last)))
}
