package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/services/ingest"
	"stable-action/services/preview"
	"stable-action/services/transform"
	"stable-action/utils"
)

type commandKind int

const (
	cmdToggleRecording commandKind = iota
	cmdStartRecording
	cmdStopRecording
	cmdSetMode
	cmdReconfigure
	cmdShutdown
)

type command struct {
	kind    commandKind
	mode    transform.Mode
	variant string
	hint    string
	reply   chan error
}

// CaptureController is the capture domain: a single goroutine that owns the
// transformer, the recording session and the telemetry sidecar, and reacts
// to capture events, control commands and finalize results in order.
type CaptureController struct {
	sensors     *SensorsController
	fusion      *FusionController
	transformer *transform.Transformer
	sink        *preview.Sink
	session     *RecordingSession
	telemetry   *TelemetryRecorder // nil: no sidecar

	cmds    chan command
	done    chan struct{}
	started time.Time

	mode      int32
	recording int32
	framesIn  uint64
	audioIn   uint64
	smoothed  atomic.Value // models.Pose

	stopOnce sync.Once
}

func NewCaptureController(
	sensors *SensorsController,
	fusion *FusionController,
	transformer *transform.Transformer,
	sink *preview.Sink,
	session *RecordingSession,
	telemetry *TelemetryRecorder,
	mode transform.Mode,
) *CaptureController {
	cc := &CaptureController{
		sensors:     sensors,
		fusion:      fusion,
		transformer: transformer,
		sink:        sink,
		session:     session,
		telemetry:   telemetry,
		cmds:        make(chan command),
		done:        make(chan struct{}),
		mode:        int32(mode),
	}
	cc.smoothed.Store(models.IdentityPose())
	return cc
}

// Start opens the capture device and launches the capture goroutine.
func (cc *CaptureController) Start(ctx context.Context) error {
	events, err := cc.sensors.StartCapture(ctx)
	if err != nil {
		close(cc.done)
		return fmt.Errorf("start capture: %w", err)
	}
	cc.started = time.Now()
	go cc.run(ctx, events)
	utils.L().Info("capture controller started (mode=%s)", cc.Mode())
	return nil
}

func (cc *CaptureController) run(ctx context.Context, events <-chan models.CaptureEvent) {
	defer close(cc.done)
	for {
		select {
		case <-ctx.Done():
			cc.shutdown()
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch {
			case ev.Video != nil:
				cc.onVideo(ev.Video)
			case ev.Audio != nil:
				cc.onAudio(ev.Audio)
			}

		case res := <-cc.session.FinishC():
			cc.session.Complete(res)

		case cmd := <-cc.cmds:
			if cmd.kind == cmdShutdown {
				cc.shutdown()
				cmd.reply <- nil
				return
			}
			var err error
			events, err = cc.execute(ctx, cmd, events)
			cmd.reply <- err
		}
	}
}

func (cc *CaptureController) onVideo(f *models.VideoFrame) {
	atomic.AddUint64(&cc.framesIn, 1)
	mode := cc.Mode()
	recording := cc.session.Active()

	if mode == transform.Stabilized || recording {
		raw := cc.fusion.Snapshot()
		out, g := cc.transformer.Process(f, raw)
		sm := cc.transformer.Smoothed()
		cc.smoothed.Store(sm)

		if mode == transform.Stabilized {
			cc.sink.Publish(transform.Stabilized, out)
		}
		if recording {
			if err := cc.session.AppendVideo(out); err != nil {
				utils.L().Debug("capture: video %s dropped: %v", utils.FormatPTS(f.PTS), err)
			} else if cc.telemetry != nil {
				cc.telemetry.Write(&models.PoseTelemetry{
					PTS: f.PTS, Raw: raw, Smoothed: sm, Crop: g.Crop, OutW: g.OutW, OutH: g.OutH,
				})
			}
		}
	}
	if mode == transform.Passthrough {
		cc.sink.Publish(transform.Passthrough, transform.Upright(f))
	}
}

func (cc *CaptureController) onAudio(a *models.AudioSample) {
	atomic.AddUint64(&cc.audioIn, 1)
	if !cc.session.Active() {
		return
	}
	if err := cc.session.AppendAudio(a); err != nil {
		utils.L().Debug("capture: audio %s dropped: %v", utils.FormatPTS(a.PTS), err)
	}
}

func (cc *CaptureController) execute(ctx context.Context, cmd command, events <-chan models.CaptureEvent) (<-chan models.CaptureEvent, error) {
	switch cmd.kind {
	case cmdToggleRecording:
		if cc.session.Active() {
			return events, cc.stopRecording()
		}
		return events, cc.startRecording(ctx)
	case cmdStartRecording:
		return events, cc.startRecording(ctx)
	case cmdStopRecording:
		return events, cc.stopRecording()
	case cmdSetMode:
		prev := transform.Mode(atomic.SwapInt32(&cc.mode, int32(cmd.mode)))
		if prev != cmd.mode {
			utils.L().Info("capture: mode %s → %s", prev, cmd.mode)
		}
		return events, nil
	case cmdReconfigure:
		if cc.session.Active() {
			// the output size may change with the device
			if err := cc.stopRecording(); err != nil {
				return events, err
			}
		}
		next, err := cc.sensors.Reconfigure(ctx, cmd.variant, cmd.hint)
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return events, fmt.Errorf("unknown command %d", cmd.kind)
}

// startRecording sizes the output from the capture format at this moment.
func (cc *CaptureController) startRecording(ctx context.Context) error {
	if cc.session.Active() {
		return nil
	}
	format := cc.sensors.Format()
	if format.Width == 0 {
		return fmt.Errorf("%w: no active capture format", models.ErrDeviceUnavailable)
	}
	w, h := cc.transformer.Constants().OutputDims(float64(format.ShortSide()))
	if err := cc.session.Start(ctx, models.Dims{Width: w, Height: h}, format.FPS); err != nil {
		return err
	}
	atomic.StoreInt32(&cc.recording, 1)

	if cc.telemetry != nil {
		if err := cc.telemetry.Open(cc.session.Path()); err != nil {
			utils.L().Warn("telemetry: %v", err)
		}
	}
	return nil
}

func (cc *CaptureController) stopRecording() error {
	err := cc.session.Stop()
	if errors.Is(err, models.ErrNotRecording) {
		return err
	}
	atomic.StoreInt32(&cc.recording, 0)
	if cc.telemetry != nil {
		cc.telemetry.Close()
	}
	return err
}

// shutdown runs in the capture goroutine: finish the recording, then stop
// the capture device, then the sensor domain (pose returns to identity).
func (cc *CaptureController) shutdown() {
	if cc.session.Active() {
		_ = cc.stopRecording()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := cc.session.Drain(ctx); err != nil {
		utils.L().Warn("capture: finalize on shutdown: %v", err)
	}
	cc.session.WaitPersisted()
	cc.sensors.StopCapture()
	cc.fusion.Stop()
	utils.L().Info("capture controller stopped (frames=%d, audio=%d)",
		atomic.LoadUint64(&cc.framesIn), atomic.LoadUint64(&cc.audioIn))
}

// send delivers a command and waits for its single reply.
func (cc *CaptureController) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case cc.cmds <- cmd:
	case <-cc.done:
		return errors.New("capture controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cc *CaptureController) ToggleRecording(ctx context.Context) error {
	return cc.send(ctx, command{kind: cmdToggleRecording})
}

func (cc *CaptureController) StartRecording(ctx context.Context) error {
	return cc.send(ctx, command{kind: cmdStartRecording})
}

func (cc *CaptureController) StopRecording(ctx context.Context) error {
	return cc.send(ctx, command{kind: cmdStopRecording})
}

// SetMode switches the display path. The capture device is not touched.
func (cc *CaptureController) SetMode(ctx context.Context, m transform.Mode) error {
	return cc.send(ctx, command{kind: cmdSetMode, mode: m})
}

func (cc *CaptureController) ToggleMode(ctx context.Context) error {
	return cc.SetMode(ctx, cc.Mode().Toggle())
}

// SwitchCamera restarts the capture device on another variant.
func (cc *CaptureController) SwitchCamera(ctx context.Context, variant string) error {
	return cc.send(ctx, command{kind: cmdReconfigure, variant: variant, hint: cc.sensors.Hint()})
}

func (cc *CaptureController) CycleCamera(ctx context.Context) error {
	return cc.SwitchCamera(ctx, ingest.NextVariant(cc.sensors.Variant()))
}

// SetStabilizationHint passes the hint to the capture layer.
func (cc *CaptureController) SetStabilizationHint(ctx context.Context, hint string) error {
	if hint != ingest.HintStandard && hint != ingest.HintEnhanced {
		return fmt.Errorf("%w: stabilization hint %q", models.ErrConfigurationRejected, hint)
	}
	return cc.send(ctx, command{kind: cmdReconfigure, variant: cc.sensors.Variant(), hint: hint})
}

func (cc *CaptureController) ToggleStabilizationHint(ctx context.Context) error {
	next := ingest.HintEnhanced
	if cc.sensors.Hint() == ingest.HintEnhanced {
		next = ingest.HintStandard
	}
	return cc.SetStabilizationHint(ctx, next)
}

// Stop shuts the capture domain down and waits for it.
func (cc *CaptureController) Stop() {
	cc.stopOnce.Do(func() {
		_ = cc.send(context.Background(), command{kind: cmdShutdown})
		<-cc.done
	})
}

// Done is closed once the capture goroutine has exited.
func (cc *CaptureController) Done() <-chan struct{} { return cc.done }

func (cc *CaptureController) Mode() transform.Mode {
	return transform.Mode(atomic.LoadInt32(&cc.mode))
}

func (cc *CaptureController) Recording() bool { return atomic.LoadInt32(&cc.recording) == 1 }

// Preview returns the newest frame for a display mode without consuming it.
func (cc *CaptureController) Preview(m transform.Mode) (*models.VideoFrame, bool) {
	return cc.sink.Slot(m).Peek()
}

// PoseUpdates is the best-effort pose feed for overlays.
func (cc *CaptureController) PoseUpdates() <-chan models.Pose { return cc.fusion.Updates() }

func (cc *CaptureController) Constants() transform.Constants { return cc.transformer.Constants() }

// Status may be called from any goroutine.
func (cc *CaptureController) Status() models.PipelineStatus {
	format := cc.sensors.Format()
	counters := cc.session.Counters()
	sm, _ := cc.smoothed.Load().(models.Pose)
	st := models.PipelineStatus{
		Recording:      cc.Recording(),
		Session:        cc.session.State().String(),
		Mode:           cc.Mode().String(),
		Camera:         cc.sensors.Variant(),
		Stabilization:  cc.sensors.Hint(),
		Format:         format.Dims(),
		FPS:            format.FPS,
		Pose:           cc.fusion.Snapshot(),
		Smoothed:       sm,
		FramesIn:       atomic.LoadUint64(&cc.framesIn),
		AudioIn:        atomic.LoadUint64(&cc.audioIn),
		VideoAppended:  counters.VideoFrames,
		AudioAppended:  counters.AudioSamples,
		VideoDropped:   counters.DroppedVideo,
		AudioDropped:   counters.DroppedAudio,
		DisplayDropped: cc.sink.Dropped(),
		CaptureDropped: cc.sensors.CaptureDropped(),
		LastRecording:  cc.session.LastPath(),
	}
	if !cc.started.IsZero() {
		st.Elapsed = time.Since(cc.started)
	}
	return st
}
