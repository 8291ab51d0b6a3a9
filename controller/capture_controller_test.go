package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stable-action/models"
	"stable-action/services/fusion"
	"stable-action/services/ingest"
	"stable-action/services/preview"
	"stable-action/services/transform"
)

type captureRig struct {
	cc      *CaptureController
	session *RecordingSession
	muxers  *muxerFactory
	fusion  *FusionController
	sink    *preview.Sink

	mu      sync.Mutex
	opened  []string
	capture *fakeCapture
}

func newCaptureRig(t *testing.T, mode transform.Mode) *captureRig {
	t.Helper()
	r := &captureRig{muxers: &muxerFactory{}, sink: preview.NewSink()}
	open := func(variant, hint string) (ingest.CaptureSource, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opened = append(r.opened, variant+"/"+hint)
		r.capture = newFakeCapture(ingest.Format{Width: 640, Height: 480, FPS: 30})
		return r.capture, nil
	}
	sensors := NewSensorsControllerFrom(absentMotion{}, open, ingest.VariantWide, ingest.HintStandard)
	r.fusion = NewFusionController(fusion.DefaultParams())
	r.session = NewRecordingSession(SessionConfig{TempDir: t.TempDir()}, r.muxers.New, nil)
	tr := transform.NewTransformer(transform.DefaultConstants(), nil)
	r.cc = NewCaptureController(sensors, r.fusion, tr, r.sink, r.session, nil, mode)

	require.NoError(t, r.cc.Start(context.Background()))
	t.Cleanup(r.cc.Stop)
	return r
}

func (r *captureRig) push(ev models.CaptureEvent) {
	r.mu.Lock()
	c := r.capture
	r.mu.Unlock()
	c.ch <- ev
}

func (r *captureRig) pushVideo(pts time.Duration) {
	r.push(models.CaptureEvent{Video: videoAt(640, 480, pts)})
}

func TestCapture_StabilizedPreview(t *testing.T) {
	r := newCaptureRig(t, transform.Stabilized)
	r.pushVideo(time.Second)

	require.Eventually(t, func() bool {
		_, ok := r.cc.Preview(transform.Stabilized)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	f, _ := r.cc.Preview(transform.Stabilized)
	assert.Equal(t, 258, f.Width)
	assert.Equal(t, 344, f.Height)
	_, ok := r.cc.Preview(transform.Passthrough)
	assert.False(t, ok)
	assert.Zero(t, r.muxers.count())
}

func TestCapture_PassthroughPreviewIsUpright(t *testing.T) {
	r := newCaptureRig(t, transform.Passthrough)
	r.pushVideo(time.Second)

	require.Eventually(t, func() bool {
		_, ok := r.cc.Preview(transform.Passthrough)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	f, _ := r.cc.Preview(transform.Passthrough)
	assert.Equal(t, 480, f.Width)
	assert.Equal(t, 640, f.Height)
}

func TestCapture_RecordRoundTrip(t *testing.T) {
	r := newCaptureRig(t, transform.Passthrough)
	ctx := context.Background()

	require.NoError(t, r.cc.ToggleRecording(ctx))
	assert.True(t, r.cc.Recording())
	assert.Equal(t, Writing, r.session.State())
	m := r.muxers.last()
	assert.Equal(t, 258, m.cfg.Width)
	assert.Equal(t, 344, m.cfg.Height)
	assert.Equal(t, 30.0, m.cfg.FPS)

	// audio ahead of the first frame is dropped, then the timeline opens
	r.push(models.CaptureEvent{Audio: audioAt(900 * time.Millisecond)})
	for i := 0; i < 5; i++ {
		r.pushVideo(time.Second + time.Duration(i)*33*time.Millisecond)
		r.push(models.CaptureEvent{Audio: audioAt(time.Second + time.Duration(i)*20*time.Millisecond)})
	}
	require.Eventually(t, func() bool {
		return len(m.videoPTS()) == 5 && len(m.audioPTS()) == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.videoPTS()[0])
	assert.Equal(t, uint64(1), r.cc.Status().AudioDropped)

	// recording still transforms frames in passthrough
	_, ok := r.cc.Preview(transform.Stabilized)
	assert.False(t, ok)

	require.NoError(t, r.cc.ToggleRecording(ctx))
	assert.False(t, r.cc.Recording())
	require.Eventually(t, func() bool { return r.session.State() == Idle }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.isFinished())
	assert.Equal(t, m.cfg.Path, r.cc.Status().LastRecording)
}

func TestCapture_ModeSwitchKeepsDevice(t *testing.T) {
	r := newCaptureRig(t, transform.Stabilized)
	require.NoError(t, r.cc.ToggleMode(context.Background()))
	assert.Equal(t, transform.Passthrough, r.cc.Mode())
	assert.Equal(t, "passthrough", r.cc.Status().Mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.opened, 1)
}

func TestCapture_ReconfigureRestartsCapture(t *testing.T) {
	r := newCaptureRig(t, transform.Stabilized)
	ctx := context.Background()

	require.NoError(t, r.cc.CycleCamera(ctx))
	require.NoError(t, r.cc.SetStabilizationHint(ctx, ingest.HintEnhanced))
	assert.Error(t, r.cc.SetStabilizationHint(ctx, "cinematic"))

	r.mu.Lock()
	opened := append([]string(nil), r.opened...)
	r.mu.Unlock()
	assert.Equal(t, []string{
		"wide/standard",
		ingest.NextVariant(ingest.VariantWide) + "/standard",
		ingest.NextVariant(ingest.VariantWide) + "/enhanced",
	}, opened)

	st := r.cc.Status()
	assert.Equal(t, ingest.HintEnhanced, st.Stabilization)
	assert.Equal(t, 640, st.Format.Width)

	// the new device still feeds the loop
	r.pushVideo(time.Second)
	require.Eventually(t, func() bool { return r.cc.Status().FramesIn == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCapture_ShutdownFinishesRecordingAndResetsPose(t *testing.T) {
	r := newCaptureRig(t, transform.Stabilized)
	require.NoError(t, r.cc.StartRecording(context.Background()))
	r.pushVideo(time.Second)
	require.Eventually(t, func() bool { return r.session.Counters().VideoFrames == 1 }, 2*time.Second, 5*time.Millisecond)

	r.cc.Stop()
	select {
	case <-r.cc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("capture goroutine did not exit")
	}
	assert.Equal(t, Idle, r.session.State())
	assert.True(t, r.muxers.last().isFinished())
	assert.True(t, r.fusion.Snapshot().IsIdentity())
	assert.Error(t, r.cc.StartRecording(context.Background()))
}
