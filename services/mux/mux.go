// Package mux writes stabilized video and passthrough audio into a container.
// Backends register a Factory by name; the recording session only sees Muxer.
package mux

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"stable-action/models"
)

// AudioFormat describes the PCM passed through untouched.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// Config is everything a backend needs to open one output file.
type Config struct {
	Path             string
	Width            int
	Height           int
	FPS              float64
	Codec            string // h264 | hevc
	Bitrate          int    // bits per second
	KeyframeInterval int
	QueueDepth       int
	Audio            *AudioFormat // nil: no audio track
}

// Muxer is one open output file. All methods except Finish are called from the
// capture goroutine; timestamps are relative to the recording origin.
type Muxer interface {
	Start() error
	VideoReady() bool
	AudioReady() bool
	AppendVideo(img *image.RGBA, rel time.Duration) error
	AppendAudio(s *models.AudioSample, rel time.Duration) error
	// Finish flushes, writes the trailer and closes the file.
	Finish(ctx context.Context) error
}

type Factory func(Config) (Muxer, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under name. Later registrations win.
func Register(name string, f Factory) {
	regMu.Lock()
	factories[name] = f
	regMu.Unlock()
}

// Lookup returns the factory for a backend name.
func Lookup(name string) (Factory, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: muxer backend %q not compiled in (have %v)",
			models.ErrConfigurationRejected, name, backendsLocked())
	}
	return f, nil
}

// Backends lists the registered backend names.
func Backends() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	return backendsLocked()
}

func backendsLocked() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("empty output path")
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("output size %dx%d must be positive and even", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("frame rate must be positive, got %v", c.FPS)
	}
	return nil
}

func (c Config) frameDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}
