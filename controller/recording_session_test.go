package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stable-action/models"
)

var sessionDims = models.Dims{Width: 258, Height: 344}

func newTestSession(t *testing.T, f *muxerFactory, p Persister) *RecordingSession {
	t.Helper()
	return NewRecordingSession(SessionConfig{TempDir: t.TempDir(), Container: "mov"}, f.New, p)
}

func TestSession_DoubleStartOpensOneWriter(t *testing.T) {
	f := &muxerFactory{}
	s := newTestSession(t, f, nil)

	require.NoError(t, s.Start(context.Background(), sessionDims, 30))
	require.NoError(t, s.Start(context.Background(), sessionDims, 30))

	assert.Equal(t, 1, f.count())
	assert.Equal(t, 1, f.last().started)
	assert.Equal(t, Writing, s.State())
	assert.Contains(t, s.Path(), ".mov")
}

func TestSession_WriterInitErrorReturnsToIdle(t *testing.T) {
	f := &muxerFactory{initErr: errors.New("encoder missing")}
	s := newTestSession(t, f, nil)

	err := s.Start(context.Background(), sessionDims, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrWriterInit)
	assert.Equal(t, Idle, s.State())
	assert.False(t, s.Active())
}

func TestSession_AudioBeforeFirstVideoIsDropped(t *testing.T) {
	f := &muxerFactory{}
	s := newTestSession(t, f, nil)
	require.NoError(t, s.Start(context.Background(), sessionDims, 30))

	err := s.AppendAudio(audioAt(time.Second))
	assert.ErrorIs(t, err, models.ErrBackpressureDrop)
	assert.Equal(t, uint64(1), s.Counters().DroppedAudio)
	assert.Empty(t, f.last().audioPTS())
}

func TestSession_TimelineStartsAtFirstVideoFrame(t *testing.T) {
	f := &muxerFactory{}
	s := newTestSession(t, f, nil)
	require.NoError(t, s.Start(context.Background(), sessionDims, 30))

	t0 := 5 * time.Second
	for i := 0; i < 5; i++ {
		pts := t0 + time.Duration(i)*33*time.Millisecond
		require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, pts)))
		require.NoError(t, s.AppendAudio(audioAt(t0+time.Duration(i)*20*time.Millisecond)))
	}
	// audio older than the origin never reaches the writer
	assert.ErrorIs(t, s.AppendAudio(audioAt(t0-time.Millisecond)), models.ErrBackpressureDrop)

	video, audio := f.last().videoPTS(), f.last().audioPTS()
	require.Len(t, video, 5)
	require.Len(t, audio, 5)
	assert.Zero(t, video[0])
	assert.Zero(t, audio[0])
	assert.Equal(t, 132*time.Millisecond, video[4])
	assert.Equal(t, 80*time.Millisecond, audio[4])

	c := s.Counters()
	assert.Equal(t, uint64(5), c.VideoFrames)
	assert.Equal(t, uint64(5), c.AudioSamples)
}

func TestSession_RejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame *models.VideoFrame
	}{
		{"wrong size", videoAt(320, 240, 2*time.Second)},
		{"pts goes backwards", videoAt(sessionDims.Width, sessionDims.Height, 1050*time.Millisecond)},
		{"before origin", videoAt(sessionDims.Width, sessionDims.Height, 500*time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &muxerFactory{}
			s := newTestSession(t, f, nil)
			require.NoError(t, s.Start(context.Background(), sessionDims, 30))
			require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, time.Second)))
			require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, 1100*time.Millisecond)))

			assert.ErrorIs(t, s.AppendVideo(tt.frame), models.ErrBackpressureDrop)
			assert.Equal(t, uint64(1), s.Counters().DroppedVideo)
			assert.Len(t, f.last().videoPTS(), 2)
		})
	}
}

func TestSession_EqualTimestampsAreAccepted(t *testing.T) {
	f := &muxerFactory{}
	s := newTestSession(t, f, nil)
	require.NoError(t, s.Start(context.Background(), sessionDims, 30))

	require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, time.Second)))
	require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, time.Second)))

	assert.Equal(t, []time.Duration{0, 0}, f.last().videoPTS())
	assert.Zero(t, s.Counters().DroppedVideo)
	assert.Equal(t, uint64(2), s.Counters().VideoFrames)
}

func TestSession_WriterNotReadyDropsWithoutQueueing(t *testing.T) {
	f := &muxerFactory{}
	s := newTestSession(t, f, nil)
	require.NoError(t, s.Start(context.Background(), sessionDims, 30))
	require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, time.Second)))
	m := f.last()

	m.videoBusy.Store(true)
	m.audioBusy.Store(true)
	assert.ErrorIs(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, 1033*time.Millisecond)), models.ErrBackpressureDrop)
	assert.ErrorIs(t, s.AppendAudio(audioAt(1010*time.Millisecond)), models.ErrBackpressureDrop)

	c := s.Counters()
	assert.Equal(t, uint64(1), c.DroppedVideo)
	assert.Equal(t, uint64(1), c.DroppedAudio)
	assert.Equal(t, uint64(1), c.VideoFrames)
	assert.Zero(t, c.AudioSamples)
	assert.Len(t, m.videoPTS(), 1)
	assert.Empty(t, m.audioPTS())
	assert.Equal(t, Writing, s.State())

	// the dropped media is gone; the next media goes straight through
	m.videoBusy.Store(false)
	m.audioBusy.Store(false)
	require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, 1066*time.Millisecond)))
	require.NoError(t, s.AppendAudio(audioAt(1050*time.Millisecond)))
	assert.Equal(t, []time.Duration{0, 66 * time.Millisecond}, m.videoPTS())
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, m.audioPTS())
	assert.Equal(t, Writing, s.State())
}

func TestSession_AppendWhileIdle(t *testing.T) {
	s := newTestSession(t, &muxerFactory{}, nil)
	assert.ErrorIs(t, s.AppendVideo(videoAt(2, 2, 0)), models.ErrNotRecording)
	assert.ErrorIs(t, s.AppendAudio(audioAt(0)), models.ErrNotRecording)
	assert.ErrorIs(t, s.Stop(), models.ErrNotRecording)
	assert.Nil(t, s.FinishC())
}

func TestSession_StartWhileFinishingIsRejected(t *testing.T) {
	gate := make(chan struct{})
	f := &muxerFactory{gate: gate}
	p := &recordingPersister{got: make(chan models.Recording, 1)}
	s := newTestSession(t, f, p)

	require.NoError(t, s.Start(context.Background(), sessionDims, 30))
	require.NoError(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, time.Second)))
	require.NoError(t, s.Stop())
	assert.Equal(t, Finishing, s.State())
	assert.False(t, s.Active())
	require.NotNil(t, s.FinishC())

	// media after stop is refused
	assert.ErrorIs(t, s.AppendVideo(videoAt(sessionDims.Width, sessionDims.Height, 2*time.Second)), models.ErrNotRecording)
	assert.ErrorIs(t, s.Start(context.Background(), sessionDims, 30), models.ErrSessionFinishing)
	assert.NoError(t, s.Stop())
	assert.Equal(t, 1, f.count())

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))
	assert.Equal(t, Idle, s.State())
	assert.True(t, f.last().isFinished())

	select {
	case rec := <-p.got:
		assert.Equal(t, uint64(1), rec.VideoFrames)
		assert.Equal(t, time.Second, rec.Origin)
		assert.Equal(t, rec.Path, s.LastPath())
	case <-time.After(5 * time.Second):
		t.Fatal("recording was not persisted")
	}

	require.NoError(t, s.Start(context.Background(), sessionDims, 30))
	assert.Equal(t, 2, f.count())
}
