package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/services/mux"
	"stable-action/utils"
)

// SessionState is the externally visible recording state.
type SessionState int32

const (
	Idle SessionState = iota
	Starting
	Writing
	Finishing
)

var sessionStateNames = [...]string{"idle", "starting", "writing", "finishing"}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return "unknown"
}

// Each state carries only the fields valid in it.
type sessionState interface{ kind() SessionState }

type idleState struct{}

type startingState struct {
	path string
	dims models.Dims
}

type writingState struct {
	id        string
	path      string
	dims      models.Dims
	fps       float64
	createdAt time.Time
	muxer     mux.Muxer
	origin    *time.Duration
	lastPTS   time.Duration
}

type finishingState struct {
	rec  models.Recording
	done <-chan finishResult
}

func (idleState) kind() SessionState      { return Idle }
func (startingState) kind() SessionState  { return Starting }
func (*writingState) kind() SessionState  { return Writing }
func (finishingState) kind() SessionState { return Finishing }

type finishResult struct {
	rec models.Recording
	err error
}

// Persister takes ownership of a finished recording.
type Persister interface {
	Persist(ctx context.Context, rec models.Recording) error
}

// SessionConfig fixes the writer settings for every recording.
type SessionConfig struct {
	TempDir          string
	Container        string
	Codec            string
	Bitrate          int
	KeyframeInterval int
	QueueDepth       int
	Audio            *mux.AudioFormat
	FinalizeTimeout  time.Duration
}

// SessionConfigFrom lifts the storage and capture configs.
func SessionConfigFrom(st *utils.StorageConfig, audio utils.AudioConfig) SessionConfig {
	c := SessionConfig{
		TempDir:          st.Storage.TempDir,
		Container:        st.Recording.Container,
		Codec:            st.Recording.Codec,
		Bitrate:          st.Recording.Bitrate,
		KeyframeInterval: st.Recording.KeyframeInterval,
		QueueDepth:       st.Recording.QueueDepth,
		FinalizeTimeout:  time.Minute,
	}
	if audio.Enabled {
		c.Audio = &mux.AudioFormat{SampleRate: audio.SampleRate, Channels: audio.Channels}
	}
	return c
}

// RecordingSession is the per-recording state machine. Every method except
// State and Counters is called from the capture goroutine only.
type RecordingSession struct {
	cfg     SessionConfig
	factory mux.Factory
	persist Persister

	st    sessionState
	state int32 // mirror of st.kind() for other goroutines

	videoFrames  uint64
	audioSamples uint64
	droppedVideo uint64
	droppedAudio uint64
	persisted    atomic.Value // string, last persisted path
	persisting   sync.WaitGroup
}

func NewRecordingSession(cfg SessionConfig, factory mux.Factory, persist Persister) *RecordingSession {
	if cfg.Container == "" {
		cfg.Container = "mov"
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = time.Minute
	}
	return &RecordingSession{cfg: cfg, factory: factory, persist: persist, st: idleState{}}
}

func (s *RecordingSession) set(st sessionState) {
	s.st = st
	atomic.StoreInt32(&s.state, int32(st.kind()))
}

// State may be read from any goroutine.
func (s *RecordingSession) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

// Active reports whether frames are currently accepted.
func (s *RecordingSession) Active() bool {
	_, ok := s.st.(*writingState)
	return ok
}

// Start opens a new output of the given size. It is a no-op while a recording
// is starting or writing and is rejected while the previous one finalizes.
func (s *RecordingSession) Start(ctx context.Context, dims models.Dims, fps float64) error {
	switch s.st.(type) {
	case startingState, *writingState:
		return nil
	case finishingState:
		return models.ErrSessionFinishing
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, path := utils.RecordingPath(s.cfg.TempDir, s.cfg.Container)
	s.set(startingState{path: path, dims: dims})

	m, err := s.factory(mux.Config{
		Path:             path,
		Width:            dims.Width,
		Height:           dims.Height,
		FPS:              fps,
		Codec:            s.cfg.Codec,
		Bitrate:          s.cfg.Bitrate,
		KeyframeInterval: s.cfg.KeyframeInterval,
		QueueDepth:       s.cfg.QueueDepth,
		Audio:            s.cfg.Audio,
	})
	if err == nil {
		err = m.Start()
	}
	if err != nil {
		s.set(idleState{})
		return fmt.Errorf("%w: %v", models.ErrWriterInit, err)
	}

	atomic.StoreUint64(&s.videoFrames, 0)
	atomic.StoreUint64(&s.audioSamples, 0)
	atomic.StoreUint64(&s.droppedVideo, 0)
	atomic.StoreUint64(&s.droppedAudio, 0)

	s.set(&writingState{
		id:        id,
		path:      path,
		dims:      dims,
		fps:       fps,
		createdAt: time.Now(),
		muxer:     m,
	})
	utils.L().Info("recording started      (id=%s, %dx%d, path=%s)", id, dims.Width, dims.Height, path)
	return nil
}

// AppendVideo hands one transformed frame to the writer. The first accepted
// frame fixes the timeline origin; every appended timestamp is pts-origin.
func (s *RecordingSession) AppendVideo(f *models.VideoFrame) error {
	w, ok := s.st.(*writingState)
	if !ok {
		return models.ErrNotRecording
	}
	if f.Width != w.dims.Width || f.Height != w.dims.Height {
		atomic.AddUint64(&s.droppedVideo, 1)
		return fmt.Errorf("%w: frame %dx%d, session %dx%d",
			models.ErrBackpressureDrop, f.Width, f.Height, w.dims.Width, w.dims.Height)
	}
	if !w.muxer.VideoReady() {
		atomic.AddUint64(&s.droppedVideo, 1)
		return models.ErrBackpressureDrop
	}
	if w.origin == nil {
		origin := f.PTS
		w.origin = &origin
	}
	rel := f.PTS - *w.origin
	if rel < 0 || (atomic.LoadUint64(&s.videoFrames) > 0 && f.PTS < w.lastPTS) {
		atomic.AddUint64(&s.droppedVideo, 1)
		return models.ErrBackpressureDrop
	}
	if err := w.muxer.AppendVideo(f.Image, rel); err != nil {
		atomic.AddUint64(&s.droppedVideo, 1)
		return err
	}
	w.lastPTS = f.PTS
	atomic.AddUint64(&s.videoFrames, 1)
	return nil
}

// AppendAudio passes one chunk through once the video origin exists.
func (s *RecordingSession) AppendAudio(a *models.AudioSample) error {
	w, ok := s.st.(*writingState)
	if !ok {
		return models.ErrNotRecording
	}
	if w.origin == nil || a.PTS < *w.origin || !w.muxer.AudioReady() {
		atomic.AddUint64(&s.droppedAudio, 1)
		return models.ErrBackpressureDrop
	}
	if err := w.muxer.AppendAudio(a, a.PTS-*w.origin); err != nil {
		atomic.AddUint64(&s.droppedAudio, 1)
		return err
	}
	atomic.AddUint64(&s.audioSamples, 1)
	return nil
}

// Stop stops accepting media at once and finalizes the file in the
// background. The result arrives on FinishC.
func (s *RecordingSession) Stop() error {
	switch st := s.st.(type) {
	case finishingState:
		return nil
	case *writingState:
		rec := models.Recording{
			ID:           st.id,
			Path:         st.path,
			CreatedAt:    st.createdAt,
			Width:        st.dims.Width,
			Height:       st.dims.Height,
			VideoFrames:  atomic.LoadUint64(&s.videoFrames),
			AudioSamples: atomic.LoadUint64(&s.audioSamples),
			DroppedVideo: atomic.LoadUint64(&s.droppedVideo),
			DroppedAudio: atomic.LoadUint64(&s.droppedAudio),
		}
		if st.origin != nil {
			rec.Origin = *st.origin
			rec.Duration = st.lastPTS - *st.origin + time.Duration(float64(time.Second)/st.fps)
		}

		done := make(chan finishResult, 1)
		s.set(finishingState{rec: rec, done: done})

		m, timeout := st.muxer, s.cfg.FinalizeTimeout
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			done <- finishResult{rec: rec, err: m.Finish(ctx)}
		}()
		utils.L().Info("recording stopping     (id=%s, frames=%d, audio=%d, dropped_video=%d, dropped_audio=%d)",
			rec.ID, rec.VideoFrames, rec.AudioSamples, rec.DroppedVideo, rec.DroppedAudio)
		return nil
	default:
		return models.ErrNotRecording
	}
}

// FinishC is non-nil only while finishing.
func (s *RecordingSession) FinishC() <-chan finishResult {
	if f, ok := s.st.(finishingState); ok {
		return f.done
	}
	return nil
}

// Complete returns the session to Idle and hands the file to persistence.
// Persistence runs detached; its outcome is only logged.
func (s *RecordingSession) Complete(res finishResult) (models.Recording, error) {
	if _, ok := s.st.(finishingState); !ok {
		return models.Recording{}, models.ErrNotRecording
	}
	s.set(idleState{})

	if res.err != nil {
		utils.L().Error("recording %s: finalize failed: %v", res.rec.ID, res.err)
		return res.rec, res.err
	}
	utils.L().Info("recording finished     (id=%s, duration=%s, path=%s)",
		res.rec.ID, utils.FormatPTS(res.rec.Duration), res.rec.Path)

	if s.persist != nil {
		s.persisting.Add(1)
		go func(rec models.Recording) {
			defer s.persisting.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.persist.Persist(ctx, rec); err != nil {
				utils.L().Error("recording %s: persist: %v", rec.ID, err)
			}
		}(res.rec)
	}
	s.persisted.Store(res.rec.Path)
	return res.rec, nil
}

// Drain waits for an in-flight finalize and completes it.
func (s *RecordingSession) Drain(ctx context.Context) error {
	ch := s.FinishC()
	if ch == nil {
		return nil
	}
	select {
	case res := <-ch:
		_, err := s.Complete(res)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitPersisted blocks until every handed-off recording has been persisted.
func (s *RecordingSession) WaitPersisted() { s.persisting.Wait() }

// SessionCounters is a snapshot of the current recording's counters.
type SessionCounters struct {
	VideoFrames  uint64 `json:"video_frames"`
	AudioSamples uint64 `json:"audio_samples"`
	DroppedVideo uint64 `json:"dropped_video"`
	DroppedAudio uint64 `json:"dropped_audio"`
}

func (s *RecordingSession) Counters() SessionCounters {
	return SessionCounters{
		VideoFrames:  atomic.LoadUint64(&s.videoFrames),
		AudioSamples: atomic.LoadUint64(&s.audioSamples),
		DroppedVideo: atomic.LoadUint64(&s.droppedVideo),
		DroppedAudio: atomic.LoadUint64(&s.droppedAudio),
	}
}

// Path is the output path of the recording in progress, if any.
func (s *RecordingSession) Path() string {
	switch st := s.st.(type) {
	case startingState:
		return st.path
	case *writingState:
		return st.path
	}
	return ""
}

// LastPath is the output path of the most recently completed recording.
func (s *RecordingSession) LastPath() string {
	p, _ := s.persisted.Load().(string)
	return p
}
