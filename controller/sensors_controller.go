package controller

import (
	"context"
	"errors"
	"sync"

	"stable-action/models"
	"stable-action/services/ingest"
	"stable-action/utils"
)

// CaptureOpener builds the capture device for a camera variant and
// stabilization hint.
type CaptureOpener func(variant, hint string) (ingest.CaptureSource, error)

// SensorsController owns the motion device and the capture device. Switching
// camera or stabilization hint restarts only the capture device.
type SensorsController struct {
	motion ingest.MotionSource
	open   CaptureOpener

	mu      sync.Mutex
	variant string
	hint    string
	capture ingest.CaptureSource
}

// NewSensorsController creates the configured sources on a shared clock.
func NewSensorsController(cfg *utils.StabilizerConfig) *SensorsController {
	clock := utils.NewClock()

	var motion ingest.MotionSource
	switch cfg.Motion.Source {
	case "csv":
		motion = ingest.NewCSVMotion(cfg.Motion.CSVPath, cfg.Motion.ChannelBuffer)
	default:
		motion = ingest.NewSimulatedMotion(cfg.Motion, clock)
	}

	return NewSensorsControllerFrom(motion, openerFor(cfg, clock), cfg.Camera.Variant, cfg.Camera.StabilizationHint)
}

func NewSensorsControllerFrom(motion ingest.MotionSource, open CaptureOpener, variant, hint string) *SensorsController {
	if hint == "" {
		hint = ingest.HintStandard
	}
	return &SensorsController{motion: motion, open: open, variant: variant, hint: hint}
}

func openerFor(cfg *utils.StabilizerConfig, clock *utils.Clock) CaptureOpener {
	return func(variant, hint string) (ingest.CaptureSource, error) {
		if cfg.Camera.Source == "file" {
			return ingest.NewFileReplay(cfg.Camera.File, cfg.Camera.ChannelBuffer)
		}

		dev, err := ingest.SelectDevice(cfg.Camera.Devices, variant)
		if err != nil {
			if !errors.Is(err, models.ErrConfigurationRejected) {
				return nil, err
			}
			utils.L().Warn("sensors: %v", err)
		}
		format, ok := ingest.BestFourByThree(dev.Formats)
		if !ok {
			utils.L().Warn("sensors: %v: no 4:3 format at >=30fps on %s, using %dx%d@%.0f",
				models.ErrConfigurationRejected, dev.Variant, format.Width, format.Height, format.FPS)
		}
		return ingest.NewSimulatedCamera(dev.Variant, format, hint, cfg.Audio, clock, cfg.Camera.ChannelBuffer), nil
	}
}

func (sc *SensorsController) Motion() ingest.MotionSource { return sc.motion }

// StartCapture opens the current variant and starts delivering events.
func (sc *SensorsController) StartCapture(ctx context.Context) (<-chan models.CaptureEvent, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	src, err := sc.open(sc.variant, sc.hint)
	if err != nil {
		return nil, err
	}
	ch, err := src.Start(ctx)
	if err != nil {
		return nil, err
	}
	sc.capture = src
	return ch, nil
}

// StopCapture stops the capture device and waits for its queue to close.
func (sc *SensorsController) StopCapture() {
	sc.mu.Lock()
	src := sc.capture
	sc.capture = nil
	sc.mu.Unlock()
	if src != nil {
		src.Stop()
	}
}

// Reconfigure restarts the capture device with a new variant and hint.
func (sc *SensorsController) Reconfigure(ctx context.Context, variant, hint string) (<-chan models.CaptureEvent, error) {
	sc.StopCapture()
	sc.mu.Lock()
	sc.variant, sc.hint = variant, hint
	sc.mu.Unlock()
	utils.L().Info("sensors: reconfigure capture (variant=%s, stabilization=%s)", variant, hint)
	return sc.StartCapture(ctx)
}

func (sc *SensorsController) Variant() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.variant
}

func (sc *SensorsController) Hint() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.hint
}

// Format is the negotiated format of the running capture device.
func (sc *SensorsController) Format() ingest.Format {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.capture == nil {
		return ingest.Format{}
	}
	return sc.capture.Format()
}

// LogStats prints produce/drop counters for each active source.
func (sc *SensorsController) LogStats() {
	p, d := sc.motion.Stats()
	utils.L().Info("  motion   produced=%d  dropped=%d", p, d)

	sc.mu.Lock()
	src := sc.capture
	sc.mu.Unlock()
	if src != nil {
		p, d := src.Stats()
		utils.L().Info("  capture  produced=%d  dropped=%d", p, d)
	}
}

// CaptureDropped returns the capture queue drop count.
func (sc *SensorsController) CaptureDropped() uint64 {
	sc.mu.Lock()
	src := sc.capture
	sc.mu.Unlock()
	if src == nil {
		return 0
	}
	_, d := src.Stats()
	return d
}
