package ingest

import (
	"context"
	"encoding/binary"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/utils"
)

// CaptureSource delivers raw landscape RGBA frames and PCM audio on one
// ordered channel, the capture domain queue.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan models.CaptureEvent, error)
	// Stop ends capture and waits until the channel is closed.
	Stop()
	Format() Format
	Stats() (produced, dropped uint64)
}

// SimulatedCamera renders a test scene through the shared handheld sway:
// a tilted horizon over a scrolling grid, with a 440 Hz tone on the
// microphone track.
type SimulatedCamera struct {
	variant string
	hint    string
	format  Format
	audio   utils.AudioConfig
	clock   *utils.Clock
	buf     int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	dropped  uint64
	produced uint64
}

// NewSimulatedCamera wires up a camera for an already selected device.
func NewSimulatedCamera(variant string, format Format, hint string, audio utils.AudioConfig, clock *utils.Clock, buffer int) *SimulatedCamera {
	if buffer <= 0 {
		buffer = 8
	}
	return &SimulatedCamera{
		variant: variant,
		hint:    hint,
		format:  format,
		audio:   audio,
		clock:   clock,
		buf:     buffer,
	}
}

func (r *SimulatedCamera) Format() Format { return r.format }

func (r *SimulatedCamera) Start(ctx context.Context) (<-chan models.CaptureEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	out := make(chan models.CaptureEvent, r.buf)

	go r.run(ctx, out)
	utils.L().Info("camera reader started  (variant=%s, %dx%d@%.0f, stabilization=%s, audio=%v, simulate=true)",
		r.variant, r.format.Width, r.format.Height, r.format.FPS, r.hint, r.audio.Enabled)
	return out, nil
}

func (r *SimulatedCamera) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *SimulatedCamera) run(ctx context.Context, out chan<- models.CaptureEvent) {
	defer close(r.done)
	defer close(out)

	frameTicker := time.NewTicker(time.Duration(float64(time.Second) / r.format.FPS))
	defer frameTicker.Stop()

	var audioC <-chan time.Time
	var chunkDur time.Duration
	if r.audio.Enabled {
		chunkDur = time.Duration(r.audio.ChunkSamples) * time.Second / time.Duration(r.audio.SampleRate)
		t := time.NewTicker(chunkDur)
		defer t.Stop()
		audioC = t.C
	}

	var sampleIdx int64
	for {
		var ev models.CaptureEvent
		select {
		case <-ctx.Done():
			utils.L().Info("camera reader stopped  (produced=%d, dropped=%d)",
				atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped))
			return
		case <-frameTicker.C:
			ev.Video = r.capture(r.clock.Now())
		case <-audioC:
			ev.Audio = r.listen(r.clock.Now()-chunkDur, sampleIdx)
			sampleIdx += int64(r.audio.ChunkSamples)
		}

		// never block the capture side; a full queue drops the event
		select {
		case out <- ev:
			atomic.AddUint64(&r.produced, 1)
		default:
			atomic.AddUint64(&r.dropped, 1)
		}
	}
}

// capture renders one landscape frame. The scene is defined upright in
// portrait y-up space and mapped back through the sensor's 90° mounting.
func (r *SimulatedCamera) capture(pts time.Duration) *models.VideoFrame {
	w, h := r.format.Width, r.format.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	t := pts.Seconds()
	sw := swayAt(t)
	cos, sin := math.Cos(sw.Roll), math.Sin(sw.Roll)
	// portrait extent is h×w
	cx, cy := float64(h)/2, float64(w)/2
	shiftX := sw.DX * swayPixelsPerMetre
	shiftY := sw.DY * swayPixelsPerMetre
	scroll := math.Mod(t*40, 48)

	for py := 0; py < h; py++ {
		row := img.Pix[py*img.Stride:]
		for px := 0; px < w; px++ {
			// raw → portrait y-up, relative to centre
			X := float64(h-py) - cx
			Y := float64(w-px) - cy
			// undo the device roll to find the upright scene point
			u := X*cos + Y*sin - shiftX
			v := -X*sin + Y*cos - shiftY

			c := scene(u+scroll, v)
			i := px * 4
			row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
		}
	}
	return models.NewVideoFrame(img, pts)
}

func scene(u, v float64) [3]uint8 {
	grid := math.Mod(math.Abs(u), 48) < 2 || math.Mod(math.Abs(v), 48) < 2
	switch {
	case math.Abs(v) < 1.5:
		return [3]uint8{255, 255, 255} // horizon
	case grid:
		return [3]uint8{30, 30, 30}
	case v > 0:
		b := uint8(math.Min(255, 180+v/4))
		return [3]uint8{90, 140, b}
	default:
		g := uint8(math.Max(60, 150+v/4))
		return [3]uint8{50, g, 40}
	}
}

// listen produces one chunk of S16LE tone.
func (r *SimulatedCamera) listen(pts time.Duration, start int64) *models.AudioSample {
	n, ch := r.audio.ChunkSamples, r.audio.Channels
	data := make([]byte, n*ch*2)
	for i := 0; i < n; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(start+int64(i))/float64(r.audio.SampleRate)))
		for c := 0; c < ch; c++ {
			binary.LittleEndian.PutUint16(data[(i*ch+c)*2:], uint16(v))
		}
	}
	return &models.AudioSample{PTS: pts, Data: data, SampleRate: r.audio.SampleRate, Channels: ch}
}

func (r *SimulatedCamera) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped)
}
