package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"stable-action/models"
	"stable-action/utils"
)

// FileReplay decodes a video file through ffmpeg and plays it back as a
// capture device at its native frame rate. It has no audio.
type FileReplay struct {
	path   string
	format Format
	buf    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	dropped  uint64
	produced uint64
}

type probeResult struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// NewFileReplay probes path for its first video stream.
func NewFileReplay(path string, buffer int) (*FileReplay, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", models.ErrDeviceUnavailable, path, err)
	}
	f, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrDeviceUnavailable, path, err)
	}
	if buffer <= 0 {
		buffer = 8
	}
	return &FileReplay{path: path, format: f, buf: buffer}, nil
}

func parseProbe(js string) (Format, error) {
	var p probeResult
	if err := json.Unmarshal([]byte(js), &p); err != nil {
		return Format{}, fmt.Errorf("parse probe output: %w", err)
	}
	for _, s := range p.Streams {
		if s.CodecType != "video" || s.Width <= 0 || s.Height <= 0 {
			continue
		}
		fps := parseRate(s.AvgFrameRate)
		if fps <= 0 {
			fps = parseRate(s.RFrameRate)
		}
		if fps <= 0 {
			fps = 30
		}
		return Format{Width: s.Width, Height: s.Height, FPS: fps}, nil
	}
	return Format{}, errors.New("no video stream")
}

// parseRate reads ffprobe rationals such as "30000/1001".
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func (r *FileReplay) Format() Format { return r.format }

func (r *FileReplay) Start(ctx context.Context) (<-chan models.CaptureEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	out := make(chan models.CaptureEvent, r.buf)

	pr, pw := io.Pipe()
	stream := ffmpeg.Input(r.path).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgba"}).
		WithOutput(pw).
		Silent(true)
	go func() {
		err := stream.Run()
		_ = pw.CloseWithError(err)
	}()
	go func() {
		<-ctx.Done()
		// unblocks the decoder and the reader
		_ = pr.CloseWithError(ctx.Err())
	}()
	go r.run(ctx, pr, out)

	utils.L().Info("file replay started    (file=%s, %dx%d@%.2f)", r.path, r.format.Width, r.format.Height, r.format.FPS)
	return out, nil
}

func (r *FileReplay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *FileReplay) run(ctx context.Context, src io.Reader, out chan<- models.CaptureEvent) {
	defer close(r.done)
	defer close(out)

	w, h := r.format.Width, r.format.Height
	frameDur := time.Duration(float64(time.Second) / r.format.FPS)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for n := int64(0); ; n++ {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		if _, err := io.ReadFull(src, img.Pix); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				utils.L().Error("file replay: %v", err)
			}
			utils.L().Info("file replay stopped    (produced=%d, dropped=%d)",
				atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ev := models.CaptureEvent{Video: models.NewVideoFrame(img, time.Duration(n)*frameDur)}
		select {
		case out <- ev:
			atomic.AddUint64(&r.produced, 1)
		default:
			atomic.AddUint64(&r.dropped, 1)
		}
	}
}

func (r *FileReplay) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped)
}
