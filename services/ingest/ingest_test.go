package ingest

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stable-action/models"
	"stable-action/utils"
)

func TestBestFourByThree(t *testing.T) {
	cases := []struct {
		name    string
		formats []utils.FormatConfig
		want    Format
		wantOK  bool
	}{
		{
			name: "prefers 60fps over wider 30fps",
			formats: []utils.FormatConfig{
				{Width: 1920, Height: 1440, MaxFPS: 30},
				{Width: 1280, Height: 960, MaxFPS: 60},
				{Width: 640, Height: 480, MaxFPS: 120},
			},
			want:   Format{Width: 1280, Height: 960, FPS: 60},
			wantOK: true,
		},
		{
			name: "widest among 30fps",
			formats: []utils.FormatConfig{
				{Width: 640, Height: 480, MaxFPS: 30},
				{Width: 1024, Height: 768, MaxFPS: 30},
			},
			want:   Format{Width: 1024, Height: 768, FPS: 30},
			wantOK: true,
		},
		{
			name: "ignores 16:9 and slow formats",
			formats: []utils.FormatConfig{
				{Width: 3840, Height: 2160, MaxFPS: 60},
				{Width: 4032, Height: 3024, MaxFPS: 24},
				{Width: 800, Height: 600, MaxFPS: 30},
			},
			want:   Format{Width: 800, Height: 600, FPS: 30},
			wantOK: true,
		},
		{
			name:    "nothing qualifies",
			formats: []utils.FormatConfig{{Width: 1920, Height: 1080, MaxFPS: 60}},
			want:    DefaultFormat,
		},
		{name: "empty", want: DefaultFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := BestFourByThree(tc.formats)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelectDevice(t *testing.T) {
	devices := []utils.DeviceConfig{
		{Variant: VariantWide},
		{Variant: VariantUltraWide},
	}

	d, err := SelectDevice(devices, VariantUltraWide)
	require.NoError(t, err)
	assert.Equal(t, VariantUltraWide, d.Variant)

	d, err = SelectDevice(devices, VariantTelephoto)
	assert.ErrorIs(t, err, models.ErrConfigurationRejected)
	assert.Equal(t, VariantWide, d.Variant, "falls back to wide")

	_, err = SelectDevice([]utils.DeviceConfig{{Variant: VariantTelephoto}}, VariantUltraWide)
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
}

func TestNextVariant(t *testing.T) {
	assert.Equal(t, VariantUltraWide, NextVariant(VariantWide))
	assert.Equal(t, VariantWide, NextVariant(VariantTelephoto))
	assert.Equal(t, VariantWide, NextVariant("fisheye"))
}

func TestSway_AccelerationIsSecondDerivative(t *testing.T) {
	const dt = 1e-4
	for _, tm := range []float64{0.1, 0.77, 2.5} {
		a := swayAt(tm - dt)
		b := swayAt(tm)
		c := swayAt(tm + dt)
		num := (a.DX - 2*b.DX + c.DX) / (dt * dt)
		assert.InDelta(t, b.AX, num, 1e-3*math.Max(1, math.Abs(b.AX)))
	}
}

func TestSimulatedCamera_FramesAndAudioShareOneQueue(t *testing.T) {
	audio := utils.AudioConfig{Enabled: true, SampleRate: 48000, Channels: 1, ChunkSamples: 480}
	cam := NewSimulatedCamera(VariantWide, Format{Width: 64, Height: 48, FPS: 60}, HintEnhanced, audio, utils.NewClock(), 64)

	ch, err := cam.Start(context.Background())
	require.NoError(t, err)

	var video, sound int
	var lastVideo time.Duration = -1
	deadline := time.After(2 * time.Second)
	for video < 5 || sound < 5 {
		select {
		case ev := <-ch:
			switch {
			case ev.Video != nil:
				assert.Nil(t, ev.Audio)
				assert.Equal(t, 64, ev.Video.Width)
				assert.Equal(t, 48, ev.Video.Height)
				assert.Greater(t, ev.Video.PTS, lastVideo, "monotonic pts")
				lastVideo = ev.Video.PTS
				video++
			case ev.Audio != nil:
				assert.Len(t, ev.Audio.Data, 480*2)
				assert.Equal(t, 10*time.Millisecond, ev.Audio.Duration())
				sound++
			}
		case <-deadline:
			t.Fatalf("timed out: video=%d audio=%d", video, sound)
		}
	}

	cam.Stop()
	for range ch {
		// drained until closed
	}
	produced, _ := cam.Stats()
	assert.GreaterOrEqual(t, produced, uint64(10))
}

func TestSimulatedMotion(t *testing.T) {
	m := NewSimulatedMotion(utils.MotionConfig{Enabled: true, UpdateRateHz: 200}, utils.NewClock())
	require.True(t, m.Available())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Start(ctx)
	require.NoError(t, err)

	s := <-ch
	g := math.Sqrt(s.Gravity.X*s.Gravity.X + s.Gravity.Y*s.Gravity.Y + s.Gravity.Z*s.Gravity.Z)
	assert.InDelta(t, 1, g, 1e-9)
	assert.Less(t, math.Abs(math.Atan2(s.Gravity.X, -s.Gravity.Y)), 0.5)

	cancel()
	for range ch {
	}

	off := NewSimulatedMotion(utils.MotionConfig{Enabled: false}, utils.NewClock())
	_, err = off.Start(context.Background())
	assert.True(t, errors.Is(err, models.ErrDeviceUnavailable))
}

func TestCSVMotion_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.csv")
	body := "timestamp_ns,gravity_x,gravity_y,gravity_z,accel_x,accel_y,accel_z\n" +
		"0,0,-1,0,0.5,0,0\n" +
		"1000000,0.1,-0.99,0,0,0.25,0\n" +
		"garbage\n" +
		"2000000,0,-1,0,0,0,0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	r := NewCSVMotion(path, 8)
	require.True(t, r.Available())
	ch, err := r.Start(context.Background())
	require.NoError(t, err)

	var got []models.MotionSample
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, 3)
	assert.Equal(t, 0.5, got[0].UserAcceleration.X)
	assert.Equal(t, time.Millisecond, got[1].Timestamp)
	assert.Equal(t, 0.25, got[1].UserAcceleration.Y)

	missing := NewCSVMotion(filepath.Join(t.TempDir(), "none.csv"), 8)
	assert.False(t, missing.Available())
	_, err = missing.Start(context.Background())
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
}

func TestParseProbe(t *testing.T) {
	js := `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1440,"height":1080,"avg_frame_rate":"30000/1001","r_frame_rate":"30000/1001"}]}`
	f, err := parseProbe(js)
	require.NoError(t, err)
	assert.Equal(t, 1440, f.Width)
	assert.Equal(t, 1080, f.Height)
	assert.InDelta(t, 29.97, f.FPS, 0.01)

	_, err = parseProbe(`{"streams":[{"codec_type":"audio"}]}`)
	assert.Error(t, err)

	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 25.0, parseRate("25"))
}
