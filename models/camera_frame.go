package models

import (
	"image"
	"time"
)

// VideoFrame is one captured or transformed picture.
// Image is packed 32-bit RGBA; PTS is monotonic capture time.
// A frame is never mutated after it has been handed downstream.
type VideoFrame struct {
	Image  *image.RGBA   `json:"-"`
	PTS    time.Duration `json:"pts"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
}

// NewVideoFrame wraps img, taking its dimensions from the bounds.
func NewVideoFrame(img *image.RGBA, pts time.Duration) *VideoFrame {
	b := img.Bounds()
	return &VideoFrame{Image: img, PTS: pts, Width: b.Dx(), Height: b.Dy()}
}

// AudioSample is a chunk of interleaved S16LE PCM.
type AudioSample struct {
	PTS        time.Duration `json:"pts"`
	Data       []byte        `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
}

// Duration of the chunk at its sample rate.
func (a *AudioSample) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	frames := len(a.Data) / (2 * a.Channels)
	return time.Duration(frames) * time.Second / time.Duration(a.SampleRate)
}

// CaptureEvent carries exactly one of Video or Audio. Both media kinds share a
// single ordered queue into the capture loop.
type CaptureEvent struct {
	Video *VideoFrame
	Audio *AudioSample
}

// Dims is a pixel size.
type Dims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
