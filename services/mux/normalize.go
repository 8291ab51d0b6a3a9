package mux

import (
	"image"
	"time"

	"stable-action/utils"
)

// maxFrameFill bounds how long a gap is filled with repeated frames. Longer
// gaps skip the output clock forward instead.
const maxFrameFill = 3 * time.Second

// FPSNormalizer turns variable-timed frames into a fixed-rate stream for
// encoders fed over a raw pipe. Each frame lands on the nearest output slot;
// a second frame for a filled slot is dropped and empty slots repeat the
// previous frame.
type FPSNormalizer struct {
	emit     func(*image.RGBA) error
	frameDur time.Duration

	last    *image.RGBA
	cur     time.Duration
	started bool

	Emitted    uint64
	Duplicated uint64
	Skipped    uint64
}

func NewFPSNormalizer(frameDur time.Duration, emit func(*image.RGBA) error) *FPSNormalizer {
	return &FPSNormalizer{emit: emit, frameDur: frameDur}
}

// Put submits a frame stamped ts (relative to the stream origin).
func (n *FPSNormalizer) Put(img *image.RGBA, ts time.Duration) error {
	if !n.started {
		n.started = true
		n.cur = ts
		n.last = img
		return n.out(img)
	}

	half := n.frameDur / 2
	next := n.cur + n.frameDur
	if ts < next-half {
		// belongs to the slot already written
		n.Skipped++
		return nil
	}
	if ts-next > maxFrameFill {
		utils.L().Warn("fps normalize: gap of %v exceeds fill limit, output will skip", ts-next)
		next = ts
	}
	// missed slots repeat the previous frame
	for ts >= next+half {
		n.Duplicated++
		if err := n.out(n.last); err != nil {
			n.cur = next
			return err
		}
		next += n.frameDur
	}
	n.cur = next
	n.last = img
	return n.out(img)
}

func (n *FPSNormalizer) out(img *image.RGBA) error {
	n.Emitted++
	return n.emit(img)
}
