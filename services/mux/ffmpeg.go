package mux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"stable-action/models"
	"stable-action/utils"
)

func init() {
	Register("ffmpeg", NewFFmpeg)
}

type videoItem struct {
	img *image.RGBA
	rel time.Duration
}

// errBox keeps the atomic.Value type stable across error types.
type errBox struct{ err error }

// ffmpegMuxer pipes raw RGBA into an ffmpeg encoder process. Audio is spooled
// as PCM next to the output and muxed in without re-encoding on Finish.
type ffmpegMuxer struct {
	cfg       Config
	videoPath string
	pcmPath   string

	pw     *io.PipeWriter
	frames chan videoItem
	norm   *FPSNormalizer

	encodeDone chan error
	writerDone chan struct{}
	writeErr   atomic.Value // errBox
	stderr     bytes.Buffer

	pcm          *os.File
	pcmBuf       *bufio.Writer
	pcmBytes     int64
	audioSamples uint64
}

// NewFFmpeg is the default Factory.
func NewFFmpeg(cfg Config) (Muxer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	m := &ffmpegMuxer{
		cfg:       cfg,
		videoPath: cfg.Path,
		frames:    make(chan videoItem, cfg.QueueDepth),
	}
	if cfg.Audio != nil {
		m.videoPath = cfg.Path + ".video.mov"
		m.pcmPath = cfg.Path + ".pcm"
	}
	return m, nil
}

// videoInputArgs describes the raw frames fed on stdin.
func videoInputArgs(cfg Config) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"framerate": formatRate(cfg.FPS),
	}
}

// videoEncodeArgs maps codec, bitrate and keyframe interval onto encoder flags.
func videoEncodeArgs(cfg Config) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c:v":      encoderFor(cfg.Codec),
		"b:v":      cfg.Bitrate,
		"maxrate":  cfg.Bitrate,
		"bufsize":  cfg.Bitrate * 2,
		"g":        cfg.KeyframeInterval,
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
		"f":        "mov",
	}
}

func audioInputArgs(a AudioFormat) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"f":  "s16le",
		"ar": a.SampleRate,
		"ac": a.Channels,
	}
}

func encoderFor(codec string) string {
	switch strings.ToLower(codec) {
	case "hevc", "h265":
		return "libx265"
	default:
		return "libx264"
	}
}

func formatRate(fps float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", fps), "0"), ".")
}

func (m *ffmpegMuxer) Start() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg binary: %w", err)
	}

	if m.cfg.Audio != nil {
		f, err := os.Create(m.pcmPath)
		if err != nil {
			return fmt.Errorf("create pcm spool: %w", err)
		}
		m.pcm = f
		m.pcmBuf = bufio.NewWriterSize(f, 64*1024)
	}

	pr, pw := io.Pipe()
	m.pw = pw
	m.encodeDone = make(chan error, 1)
	m.writerDone = make(chan struct{})

	stream := ffmpeg.Input("pipe:", videoInputArgs(m.cfg)).
		Output(m.videoPath, videoEncodeArgs(m.cfg)).
		OverWriteOutput().
		WithInput(pr).
		WithErrorOutput(&m.stderr).
		Silent(true)

	utils.L().Debug("ffmpeg encode: %s", strings.Join(stream.GetArgs(), " "))
	go func() {
		err := stream.Run()
		// unblock the writer if ffmpeg died early
		_ = pr.CloseWithError(io.ErrClosedPipe)
		m.encodeDone <- err
	}()

	m.norm = NewFPSNormalizer(m.cfg.frameDuration(), func(img *image.RGBA) error {
		_, err := pw.Write(img.Pix)
		return err
	})
	go m.writeLoop()

	utils.L().Info("ffmpeg muxer started   (%dx%d @ %sfps, %s, %d bps, g=%d, audio=%v)",
		m.cfg.Width, m.cfg.Height, formatRate(m.cfg.FPS), encoderFor(m.cfg.Codec),
		m.cfg.Bitrate, m.cfg.KeyframeInterval, m.cfg.Audio != nil)
	return nil
}

func (m *ffmpegMuxer) writeLoop() {
	defer close(m.writerDone)
	for it := range m.frames {
		if m.writeErr.Load() != nil {
			continue
		}
		if err := m.norm.Put(it.img, it.rel); err != nil {
			m.writeErr.Store(errBox{err})
		}
	}
}

func (m *ffmpegMuxer) VideoReady() bool {
	return m.writeErr.Load() == nil && len(m.frames) < cap(m.frames)
}

func (m *ffmpegMuxer) AudioReady() bool {
	return m.pcmBuf != nil
}

func (m *ffmpegMuxer) AppendVideo(img *image.RGBA, rel time.Duration) error {
	if b := img.Bounds(); b.Dx() != m.cfg.Width || b.Dy() != m.cfg.Height || img.Stride != 4*m.cfg.Width {
		return fmt.Errorf("frame %dx%d does not match output %dx%d", b.Dx(), b.Dy(), m.cfg.Width, m.cfg.Height)
	}
	select {
	case m.frames <- videoItem{img: img, rel: rel}:
		return nil
	default:
		return models.ErrBackpressureDrop
	}
}

// AppendAudio spools PCM at its timeline position, padding gaps with silence.
func (m *ffmpegMuxer) AppendAudio(s *models.AudioSample, rel time.Duration) error {
	if m.pcmBuf == nil {
		return models.ErrBackpressureDrop
	}
	a := m.cfg.Audio
	frameBytes := int64(2 * a.Channels)
	want := int64(rel.Seconds()*float64(a.SampleRate)) * frameBytes
	if gap := want - m.pcmBytes; gap > 0 {
		if _, err := m.pcmBuf.Write(make([]byte, gap)); err != nil {
			return err
		}
		m.pcmBytes += gap
	}
	n, err := m.pcmBuf.Write(s.Data)
	m.pcmBytes += int64(n)
	if err != nil {
		return err
	}
	m.audioSamples++
	return nil
}

func (m *ffmpegMuxer) Finish(ctx context.Context) error {
	close(m.frames)
	select {
	case <-m.writerDone:
	case <-ctx.Done():
		_ = m.pw.CloseWithError(ctx.Err())
		return ctx.Err()
	}
	_ = m.pw.Close()

	var encErr error
	select {
	case encErr = <-m.encodeDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if encErr != nil {
		m.cleanupAudio()
		return fmt.Errorf("ffmpeg encode: %w: %s", encErr, lastLine(m.stderr.String()))
	}
	if b, ok := m.writeErr.Load().(errBox); ok {
		m.cleanupAudio()
		return fmt.Errorf("ffmpeg pipe: %w", b.err)
	}
	utils.L().Debug("ffmpeg normalize: emitted=%d duplicated=%d skipped=%d",
		m.norm.Emitted, m.norm.Duplicated, m.norm.Skipped)

	if m.cfg.Audio == nil {
		return nil
	}
	return m.muxAudio()
}

func (m *ffmpegMuxer) muxAudio() error {
	if err := m.pcmBuf.Flush(); err != nil {
		m.cleanupAudio()
		return fmt.Errorf("flush pcm: %w", err)
	}
	_ = m.pcm.Close()
	defer m.cleanupAudio()

	if m.audioSamples == 0 {
		return os.Rename(m.videoPath, m.cfg.Path)
	}

	var stderr bytes.Buffer
	video := ffmpeg.Input(m.videoPath).Video()
	audio := ffmpeg.Input(m.pcmPath, audioInputArgs(*m.cfg.Audio)).Audio()
	err := ffmpeg.Output([]*ffmpeg.Stream{video, audio}, m.cfg.Path, ffmpeg.KwArgs{
		"c:v": "copy",
		"c:a": "pcm_s16le",
		"f":   "mov",
	}).OverWriteOutput().WithErrorOutput(&stderr).Silent(true).Run()
	if err != nil {
		return fmt.Errorf("ffmpeg mux audio: %w: %s", err, lastLine(stderr.String()))
	}
	return os.Remove(m.videoPath)
}

func (m *ffmpegMuxer) cleanupAudio() {
	if m.pcmPath == "" {
		return
	}
	if m.pcm != nil {
		_ = m.pcm.Close()
	}
	if err := os.Remove(m.pcmPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.L().Warn("remove pcm spool: %v", err)
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
