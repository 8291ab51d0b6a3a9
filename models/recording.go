package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Recording describes a finished output file handed to persistence.
type Recording struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	CreatedAt    time.Time     `json:"created_at"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	VideoFrames  uint64        `json:"video_frames"`
	AudioSamples uint64        `json:"audio_samples"`
	DroppedVideo uint64        `json:"dropped_video"`
	DroppedAudio uint64        `json:"dropped_audio"`
	Origin       time.Duration `json:"origin"`
	Duration     time.Duration `json:"duration"`
}

// TelemetryPathFor returns the pose sidecar path next to a recording file.
func TelemetryPathFor(recordingPath string) string {
	return strings.TrimSuffix(recordingPath, filepath.Ext(recordingPath)) + ".pose.csv"
}

// PipelineStatus is the snapshot exposed to every outer surface.
type PipelineStatus struct {
	Recording      bool          `json:"recording"`
	Session        string        `json:"session"`
	Mode           string        `json:"mode"`
	Camera         string        `json:"camera"`
	Stabilization  string        `json:"stabilization"`
	Format         Dims          `json:"format"`
	FPS            float64       `json:"fps"`
	Pose           Pose          `json:"pose"`
	Smoothed       Pose          `json:"smoothed"`
	FramesIn       uint64        `json:"frames_in"`
	AudioIn        uint64        `json:"audio_in"`
	VideoAppended  uint64        `json:"video_appended"`
	AudioAppended  uint64        `json:"audio_appended"`
	VideoDropped   uint64        `json:"video_dropped"`
	AudioDropped   uint64        `json:"audio_dropped"`
	DisplayDropped uint64        `json:"display_dropped"`
	CaptureDropped uint64        `json:"capture_dropped"`
	Elapsed        time.Duration `json:"elapsed"`
	LastRecording  string        `json:"last_recording,omitempty"`
}
