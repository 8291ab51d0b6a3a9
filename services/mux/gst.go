//go:build gstreamer

package mux

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"stable-action/models"
	"stable-action/utils"
)

func init() {
	Register("gstreamer", NewGStreamer)
}

// gstMuxer encodes through a GStreamer pipeline:
//
//	appsrc(video) → videoconvert → x264enc → h264parse ┐
//	                                                   ├→ qtmux → filesink
//	appsrc(audio, S16LE) ──────────────────────────────┘
type gstMuxer struct {
	cfg      Config
	pipeline *gst.Pipeline
	video    *app.Source
	audio    *app.Source

	videoHungry int32
	audioHungry int32
}

func NewGStreamer(cfg Config) (Muxer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	m := &gstMuxer{cfg: cfg, pipeline: pipeline, videoHungry: 1, audioHungry: 1}

	m.video, err = app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create video appsrc: %w", err)
	}
	m.video.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%s",
		cfg.Width, cfg.Height, gstFraction(cfg.FPS))))
	m.video.SetProperty("format", gst.FormatTime)
	m.video.SetProperty("is-live", true)
	m.video.SetProperty("do-timestamp", false)
	m.video.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc:   func(*app.Source, uint) { atomic.StoreInt32(&m.videoHungry, 1) },
		EnoughDataFunc: func(*app.Source) { atomic.StoreInt32(&m.videoHungry, 0) },
	})

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	encoder, err := gst.NewElement(gstEncoderFor(cfg.Codec))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	encoder.SetProperty("bitrate", uint(cfg.Bitrate/1000)) // kbit/s
	encoder.SetProperty("key-int-max", uint(cfg.KeyframeInterval))

	parse, err := gst.NewElement(gstParserFor(cfg.Codec))
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}
	qtmux, err := gst.NewElement("qtmux")
	if err != nil {
		return nil, fmt.Errorf("failed to create qtmux: %w", err)
	}
	sink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesink: %w", err)
	}
	sink.SetProperty("location", cfg.Path)

	if err := pipeline.AddMany(m.video.Element, convert, encoder, parse, qtmux, sink); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(m.video.Element, convert, encoder, parse, qtmux, sink); err != nil {
		return nil, fmt.Errorf("failed to link video branch: %w", err)
	}

	if cfg.Audio != nil {
		m.audio, err = app.NewAppSrc()
		if err != nil {
			return nil, fmt.Errorf("failed to create audio appsrc: %w", err)
		}
		m.audio.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
			"audio/x-raw,format=S16LE,layout=interleaved,rate=%d,channels=%d",
			cfg.Audio.SampleRate, cfg.Audio.Channels)))
		m.audio.SetProperty("format", gst.FormatTime)
		m.audio.SetProperty("is-live", true)
		m.audio.SetCallbacks(&app.SourceCallbacks{
			NeedDataFunc:   func(*app.Source, uint) { atomic.StoreInt32(&m.audioHungry, 1) },
			EnoughDataFunc: func(*app.Source) { atomic.StoreInt32(&m.audioHungry, 0) },
		})
		if err := pipeline.Add(m.audio.Element); err != nil {
			return nil, fmt.Errorf("failed to add audio appsrc: %w", err)
		}
		if err := m.audio.Link(qtmux); err != nil {
			return nil, fmt.Errorf("failed to link audio branch: %w", err)
		}
	}
	return m, nil
}

func gstEncoderFor(codec string) string {
	if strings.EqualFold(codec, "hevc") || strings.EqualFold(codec, "h265") {
		return "x265enc"
	}
	return "x264enc"
}

func gstParserFor(codec string) string {
	if strings.EqualFold(codec, "hevc") || strings.EqualFold(codec, "h265") {
		return "h265parse"
	}
	return "h264parse"
}

func gstFraction(fps float64) string {
	return fmt.Sprintf("%d/1000", int(fps*1000+0.5))
}

func (m *gstMuxer) Start() error {
	if err := m.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	utils.L().Info("gstreamer muxer started (%dx%d, %s, audio=%v)",
		m.cfg.Width, m.cfg.Height, gstEncoderFor(m.cfg.Codec), m.audio != nil)
	return nil
}

func (m *gstMuxer) VideoReady() bool { return atomic.LoadInt32(&m.videoHungry) == 1 }

func (m *gstMuxer) AudioReady() bool {
	return m.audio != nil && atomic.LoadInt32(&m.audioHungry) == 1
}

func (m *gstMuxer) AppendVideo(img *image.RGBA, rel time.Duration) error {
	buf := gst.NewBufferFromBytes(img.Pix)
	buf.SetPresentationTimestamp(rel)
	buf.SetDuration(m.cfg.frameDuration())
	if ret := m.video.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push video buffer: %v", ret)
	}
	return nil
}

func (m *gstMuxer) AppendAudio(s *models.AudioSample, rel time.Duration) error {
	if m.audio == nil {
		return models.ErrBackpressureDrop
	}
	buf := gst.NewBufferFromBytes(s.Data)
	buf.SetPresentationTimestamp(rel)
	buf.SetDuration(s.Duration())
	if ret := m.audio.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push audio buffer: %v", ret)
	}
	return nil
}

// Finish sends EOS on every source and waits for qtmux to write the index.
func (m *gstMuxer) Finish(ctx context.Context) error {
	defer m.pipeline.SetState(gst.StateNull)

	m.video.EndStream()
	if m.audio != nil {
		m.audio.EndStream()
	}

	bus := m.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())
		}
	}
}
