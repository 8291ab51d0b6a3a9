package controller

import (
	"context"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/services/ingest"
	"stable-action/utils"
	"stable-action/views"
)

// TelemetryRecorder writes the per-frame pose sidecar of the current
// recording. It is driven by the capture goroutine.
type TelemetryRecorder struct {
	cfg   utils.CSVStorageConfig
	w     *views.CSVWriter
	flush time.Duration
	last  time.Time
}

func NewTelemetryRecorder(cfg utils.CSVStorageConfig) *TelemetryRecorder {
	flush := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if flush <= 0 {
		flush = 250 * time.Millisecond
	}
	return &TelemetryRecorder{cfg: cfg, flush: flush}
}

// Open starts a sidecar next to recordingPath.
func (t *TelemetryRecorder) Open(recordingPath string) error {
	w, err := views.NewCSVWriter(models.TelemetryPathFor(recordingPath),
		t.cfg.BufferSizeKB*1024, t.cfg.WriteHeader, views.SchemaPose.Columns())
	if err != nil {
		return err
	}
	t.w = w
	t.last = time.Now()
	return nil
}

// Write appends one row and flushes on the configured interval.
func (t *TelemetryRecorder) Write(row *models.PoseTelemetry) {
	if t.w == nil {
		return
	}
	t.w.Write(row)
	if now := time.Now(); now.Sub(t.last) >= t.flush {
		if err := t.w.Flush(); err != nil {
			utils.L().Warn("telemetry flush: %v", err)
		}
		t.last = now
	}
}

// Close finishes the sidecar, if one is open.
func (t *TelemetryRecorder) Close() {
	if t.w == nil {
		return
	}
	rows := t.w.Rows()
	if err := t.w.Close(); err != nil {
		utils.L().Warn("telemetry close: %v", err)
	}
	utils.L().Info("telemetry saved        (rows=%d, path=%s)", rows, t.w.Path())
	t.w = nil
}

// LoggedMotion forwards a motion source unchanged while appending every
// sample to a CSV log that CSVMotion can replay.
type LoggedMotion struct {
	src    ingest.MotionSource
	w      *views.CSVWriter
	logged uint64
}

func NewLoggedMotion(src ingest.MotionSource, path string, cfg utils.CSVStorageConfig) (*LoggedMotion, error) {
	w, err := views.NewCSVWriter(path, cfg.BufferSizeKB*1024, true, views.SchemaMotion.Columns())
	if err != nil {
		return nil, err
	}
	return &LoggedMotion{src: src, w: w}, nil
}

func (m *LoggedMotion) Available() bool { return m.src.Available() }

func (m *LoggedMotion) Start(ctx context.Context) (<-chan models.MotionSample, error) {
	in, err := m.src.Start(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan models.MotionSample, cap(in))
	go func() {
		defer close(out)
		defer m.w.Close()
		for s := range in {
			m.w.Write(&s)
			if atomic.AddUint64(&m.logged, 1)%256 == 0 {
				_ = m.w.Flush()
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *LoggedMotion) Stats() (uint64, uint64) { return m.src.Stats() }
