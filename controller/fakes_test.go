package controller

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/services/ingest"
	"stable-action/services/mux"
)

type fakeMuxer struct {
	mu       sync.Mutex
	cfg      mux.Config
	started  int
	video    []time.Duration
	audio    []time.Duration
	finished bool
	gate     chan struct{} // Finish blocks until closed, when set
	startErr error

	videoBusy atomic.Bool
	audioBusy atomic.Bool
}

func (m *fakeMuxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return m.startErr
}

func (m *fakeMuxer) VideoReady() bool { return !m.videoBusy.Load() }
func (m *fakeMuxer) AudioReady() bool { return !m.audioBusy.Load() }

func (m *fakeMuxer) AppendVideo(_ *image.RGBA, rel time.Duration) error {
	m.mu.Lock()
	m.video = append(m.video, rel)
	m.mu.Unlock()
	return nil
}

func (m *fakeMuxer) AppendAudio(_ *models.AudioSample, rel time.Duration) error {
	m.mu.Lock()
	m.audio = append(m.audio, rel)
	m.mu.Unlock()
	return nil
}

func (m *fakeMuxer) Finish(ctx context.Context) error {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.finished = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMuxer) videoPTS() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.video...)
}

func (m *fakeMuxer) audioPTS() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.audio...)
}

func (m *fakeMuxer) isFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// muxerFactory hands out fresh fakes and remembers them.
type muxerFactory struct {
	mu      sync.Mutex
	made    []*fakeMuxer
	gate    chan struct{}
	initErr error
}

func (f *muxerFactory) New(cfg mux.Config) (mux.Muxer, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	m := &fakeMuxer{cfg: cfg, gate: f.gate}
	f.mu.Lock()
	f.made = append(f.made, m)
	f.mu.Unlock()
	return m, nil
}

func (f *muxerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *muxerFactory) last() *fakeMuxer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[len(f.made)-1]
}

type recordingPersister struct {
	got chan models.Recording
}

func (p *recordingPersister) Persist(_ context.Context, rec models.Recording) error {
	p.got <- rec
	return nil
}

// fakeCapture delivers whatever the test pushes.
type fakeCapture struct {
	format ingest.Format
	ch     chan models.CaptureEvent
	once   sync.Once
}

func newFakeCapture(format ingest.Format) *fakeCapture {
	return &fakeCapture{format: format, ch: make(chan models.CaptureEvent, 16)}
}

func (c *fakeCapture) Start(context.Context) (<-chan models.CaptureEvent, error) { return c.ch, nil }
func (c *fakeCapture) Stop()                                                     { c.once.Do(func() { close(c.ch) }) }
func (c *fakeCapture) Format() ingest.Format                                     { return c.format }
func (c *fakeCapture) Stats() (uint64, uint64)                                   { return 0, 0 }

type absentMotion struct{}

func (absentMotion) Available() bool { return false }
func (absentMotion) Start(context.Context) (<-chan models.MotionSample, error) {
	return nil, errors.New("no motion device")
}
func (absentMotion) Stats() (uint64, uint64) { return 0, 0 }

func videoAt(w, h int, pts time.Duration) *models.VideoFrame {
	return models.NewVideoFrame(image.NewRGBA(image.Rect(0, 0, w, h)), pts)
}

func audioAt(pts time.Duration) *models.AudioSample {
	return &models.AudioSample{PTS: pts, Data: make([]byte, 64), SampleRate: 48000, Channels: 1}
}
