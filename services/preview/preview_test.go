package preview

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stable-action/models"
	"stable-action/services/transform"
)

func frameAt(pts time.Duration) *models.VideoFrame {
	return models.NewVideoFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)), pts)
}

func TestSlot_LatestWins(t *testing.T) {
	var s Slot
	_, ok := s.Take()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		s.Publish(frameAt(time.Duration(i)))
	}
	f, ok := s.Take()
	require.True(t, ok)
	assert.Equal(t, time.Duration(3), f.PTS)

	published, dropped := s.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Equal(t, uint64(2), dropped)
}

func TestSlot_TakeClearsPeekDoesNot(t *testing.T) {
	var s Slot
	s.Publish(frameAt(7))

	_, ok := s.Take()
	require.True(t, ok)
	_, ok = s.Take()
	assert.False(t, ok)

	f, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, time.Duration(7), f.PTS)

	// publishing after a take is not a drop
	s.Publish(frameAt(8))
	_, dropped := s.Stats()
	assert.Zero(t, dropped)
}

func TestSink_SlotsAreIndependent(t *testing.T) {
	k := NewSink()
	k.Publish(transform.Stabilized, frameAt(1))
	k.Publish(transform.Passthrough, frameAt(2))

	f, _ := k.Slot(transform.Stabilized).Take()
	g, _ := k.Slot(transform.Passthrough).Take()
	assert.Equal(t, time.Duration(1), f.PTS)
	assert.Equal(t, time.Duration(2), g.PTS)
}

func TestDisplay_NeverBlocksPublisher(t *testing.T) {
	k := NewSink()
	d := NewDisplay(k, func() transform.Mode { return transform.Stabilized })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// a render far slower than the publisher
		d.Run(ctx, time.Millisecond, func(*models.VideoFrame, transform.Mode) {
			time.Sleep(20 * time.Millisecond)
		})
	}()

	start := time.Now()
	for i := 0; i < 10000; i++ {
		k.Publish(transform.Stabilized, frameAt(time.Duration(i)))
	}
	assert.Less(t, time.Since(start), time.Second)

	cancel()
	wg.Wait()
	published, dropped := k.Slot(transform.Stabilized).Stats()
	assert.Equal(t, uint64(10000), published)
	assert.Greater(t, dropped, uint64(0))
	assert.LessOrEqual(t, d.Rendered(), published)
}

func TestDisplay_TickFollowsMode(t *testing.T) {
	k := NewSink()
	mode := transform.Passthrough
	d := NewDisplay(k, func() transform.Mode { return mode })

	k.Publish(transform.Stabilized, frameAt(1))
	_, _, ok := d.Tick()
	assert.False(t, ok)

	k.Publish(transform.Passthrough, frameAt(2))
	f, m, ok := d.Tick()
	require.True(t, ok)
	assert.Equal(t, transform.Passthrough, m)
	assert.Equal(t, time.Duration(2), f.PTS)
}
