package preview

import (
	"context"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/services/transform"
	"stable-action/utils"
)

// Display is the display domain: it pulls at most one frame per refresh tick
// from the slot of the active mode.
type Display struct {
	sink     *Sink
	mode     func() transform.Mode
	rendered uint64
}

func NewDisplay(sink *Sink, mode func() transform.Mode) *Display {
	return &Display{sink: sink, mode: mode}
}

// Tick takes the pending frame for the active mode, if any.
func (d *Display) Tick() (*models.VideoFrame, transform.Mode, bool) {
	m := d.mode()
	f, ok := d.sink.Slot(m).Take()
	if ok {
		atomic.AddUint64(&d.rendered, 1)
	}
	return f, m, ok
}

// Run calls render for each frame taken until ctx is cancelled.
func (d *Display) Run(ctx context.Context, refresh time.Duration, render func(*models.VideoFrame, transform.Mode)) {
	if refresh <= 0 {
		refresh = time.Second / 60
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	utils.L().Info("display started        (refresh=%v)", refresh)
	for {
		select {
		case <-ctx.Done():
			utils.L().Info("display stopped        (rendered=%d)", d.Rendered())
			return
		case <-ticker.C:
			if f, m, ok := d.Tick(); ok {
				render(f, m)
			}
		}
	}
}

func (d *Display) Rendered() uint64 { return atomic.LoadUint64(&d.rendered) }
