// Package preview hands the newest frame from the capture goroutine to the
// display without ever making the capture side wait.
package preview

import (
	"sync"
	"sync/atomic"

	"stable-action/models"
	"stable-action/services/transform"
)

// Slot holds at most one pending frame. Publishing over an unread frame
// replaces it and counts a display drop.
type Slot struct {
	mu      sync.Mutex
	pending *models.VideoFrame
	last    *models.VideoFrame

	published uint64
	dropped   uint64
}

func (s *Slot) Publish(f *models.VideoFrame) {
	s.mu.Lock()
	if s.pending != nil {
		atomic.AddUint64(&s.dropped, 1)
	}
	s.pending = f
	s.last = f
	s.mu.Unlock()
	atomic.AddUint64(&s.published, 1)
}

// Take returns the pending frame and clears the slot.
func (s *Slot) Take() (*models.VideoFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pending
	s.pending = nil
	return f, f != nil
}

// Peek returns the newest frame ever published, read or not.
func (s *Slot) Peek() (*models.VideoFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

// Stats returns (published, dropped).
func (s *Slot) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&s.published), atomic.LoadUint64(&s.dropped)
}

// Sink is the pair of preview slots, one per display mode.
type Sink struct {
	stabilized  Slot
	passthrough Slot
}

func NewSink() *Sink { return &Sink{} }

func (k *Sink) Publish(mode transform.Mode, f *models.VideoFrame) {
	k.Slot(mode).Publish(f)
}

func (k *Sink) Slot(mode transform.Mode) *Slot {
	if mode == transform.Passthrough {
		return &k.passthrough
	}
	return &k.stabilized
}

// Dropped sums display drops over both slots.
func (k *Sink) Dropped() uint64 {
	_, a := k.stabilized.Stats()
	_, b := k.passthrough.Stats()
	return a + b
}
