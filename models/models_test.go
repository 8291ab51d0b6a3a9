package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoseClamped(t *testing.T) {
	tests := []struct {
		in, want Pose
	}{
		{Pose{Roll: 3, OffsetX: 1.5, OffsetY: -2}, Pose{Roll: 3, OffsetX: 1, OffsetY: -1}},
		{Pose{OffsetX: 0.25, OffsetY: -0.5}, Pose{OffsetX: 0.25, OffsetY: -0.5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Clamped())
	}
	assert.True(t, IdentityPose().IsIdentity())
	assert.False(t, Pose{Roll: 0.1}.IsIdentity())
}

func TestParseMotionRow(t *testing.T) {
	s := MotionSample{
		Gravity:          Vector3{0.1, -0.99, 0},
		UserAcceleration: Vector3{0.5, -0.25, 0.125},
		Timestamp:        1500 * time.Millisecond,
	}
	got, err := ParseMotionRow(s.CSVRow())
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = ParseMotionRow([]string{"1", "2"})
	assert.ErrorIs(t, err, ErrShortRow)

	_, err = ParseMotionRow([]string{"x", "0", "0", "0", "0", "0", "0"})
	assert.Error(t, err)
}

func TestAudioSampleDuration(t *testing.T) {
	a := AudioSample{Data: make([]byte, 48000*2), SampleRate: 48000, Channels: 1}
	assert.Equal(t, time.Second, a.Duration())

	stereo := AudioSample{Data: make([]byte, 4800*4), SampleRate: 48000, Channels: 2}
	assert.Equal(t, 100*time.Millisecond, stereo.Duration())
}

func TestTelemetryPathFor(t *testing.T) {
	assert.Equal(t, "/tmp/abc.pose.csv", TelemetryPathFor("/tmp/abc.mov"))
}
