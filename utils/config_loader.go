package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ─── Capture / device configs ───────────────────────────────────────────

// FormatConfig describes one capture format a device advertises.
type FormatConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	MaxFPS float64 `yaml:"max_fps"`
}

// DeviceConfig lists the formats of one named camera variant.
type DeviceConfig struct {
	Variant string         `yaml:"variant"` // wide, ultra-wide, telephoto
	Formats []FormatConfig `yaml:"formats"`
}

type CameraConfig struct {
	Variant           string         `yaml:"variant"`
	StabilizationHint string         `yaml:"stabilization_hint"` // standard | enhanced
	Source            string         `yaml:"source"`             // simulate | file
	File              string         `yaml:"file"`
	ChannelBuffer     int            `yaml:"channel_buffer"`
	Devices           []DeviceConfig `yaml:"devices"`
}

type AudioConfig struct {
	Enabled      bool `yaml:"enabled"`
	SampleRate   int  `yaml:"sample_rate"`
	Channels     int  `yaml:"channels"`
	ChunkSamples int  `yaml:"chunk_samples"`
}

type MotionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Source        string `yaml:"source"` // simulate | csv
	CSVPath       string `yaml:"csv_path"`
	UpdateRateHz  int    `yaml:"update_rate_hz"`
	ChannelBuffer int    `yaml:"channel_buffer"`
}

// FusionConfig holds the cascaded-integrator tuning.
type FusionConfig struct {
	DeadZone      float64 `yaml:"dead_zone"`      // m/s²
	VelocityDecay float64 `yaml:"velocity_decay"` // (0,1)
	PositionDecay float64 `yaml:"position_decay"` // (0,1), close to 1 = gimbal-like hold
	Sensitivity   float64 `yaml:"sensitivity"`
}

// TransformConfig holds the crop geometry and per-frame smoothing constants.
// The same values drive every overlay that visualises the crop.
type TransformConfig struct {
	CropFraction     float64 `yaml:"crop_fraction"`
	AspectW          float64 `yaml:"aspect_w"`
	AspectH          float64 `yaml:"aspect_h"`
	RollAlpha        float64 `yaml:"roll_alpha"`
	TranslationAlpha float64 `yaml:"translation_alpha"`
	ShiftDamping     float64 `yaml:"shift_damping"`
	Interpolation    string  `yaml:"interpolation"` // nearest | approx-bilinear | bilinear
	Mode             string  `yaml:"mode"`          // stabilized | passthrough
}

type DisplayConfig struct {
	RefreshHz int `yaml:"refresh_hz"`
	Columns   int `yaml:"columns"`
}

// StabilizerConfig is the top-level structure for stabilizer.yaml.
type StabilizerConfig struct {
	Camera    CameraConfig    `yaml:"camera"`
	Audio     AudioConfig     `yaml:"audio"`
	Motion    MotionConfig    `yaml:"motion"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Transform TransformConfig `yaml:"transform"`
	Display   DisplayConfig   `yaml:"display"`
	Log       struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// ─── Storage configs ────────────────────────────────────────────────────

type CSVStorageConfig struct {
	FlushIntervalMs int  `yaml:"flush_interval_ms"`
	BufferSizeKB    int  `yaml:"buffer_size_kb"`
	WriteHeader     bool `yaml:"write_header"`
}

// RecordingConfig configures the container writer.
type RecordingConfig struct {
	Backend          string `yaml:"backend"` // ffmpeg | gstreamer
	Codec            string `yaml:"codec"`
	Bitrate          int    `yaml:"bitrate"`
	KeyframeInterval int    `yaml:"keyframe_interval"`
	Container        string `yaml:"container"`
	QueueDepth       int    `yaml:"queue_depth"`
}

type StorageConfig struct {
	Storage struct {
		TempDir   string           `yaml:"temp_dir"`
		BaseDir   string           `yaml:"base_dir"`
		Catalog   string           `yaml:"catalog"`
		Telemetry bool             `yaml:"telemetry"`
		CSV       CSVStorageConfig `yaml:"csv"`
	} `yaml:"storage"`
	Recording RecordingConfig `yaml:"recording"`
}

// ─── Defaults ───────────────────────────────────────────────────────────

// DefaultStabilizerConfig returns the reference tuning with a simulated rig.
func DefaultStabilizerConfig() *StabilizerConfig {
	cfg := &StabilizerConfig{}
	cfg.Camera.Variant = "ultra-wide"
	cfg.Camera.Source = "simulate"
	cfg.Audio.Enabled = true
	cfg.Motion.Enabled = true
	cfg.Motion.Source = "simulate"
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its reference value.
func (c *StabilizerConfig) ApplyDefaults() {
	if c.Camera.Variant == "" {
		c.Camera.Variant = "wide"
	}
	if c.Camera.StabilizationHint == "" {
		c.Camera.StabilizationHint = "standard"
	}
	if c.Camera.Source == "" {
		c.Camera.Source = "simulate"
	}
	if c.Camera.ChannelBuffer <= 0 {
		c.Camera.ChannelBuffer = 8
	}
	if len(c.Camera.Devices) == 0 {
		c.Camera.Devices = []DeviceConfig{
			{Variant: "wide", Formats: []FormatConfig{
				{Width: 1280, Height: 720, MaxFPS: 60},
				{Width: 640, Height: 480, MaxFPS: 60},
				{Width: 1280, Height: 960, MaxFPS: 30},
			}},
			{Variant: "ultra-wide", Formats: []FormatConfig{
				{Width: 640, Height: 480, MaxFPS: 60},
				{Width: 1024, Height: 768, MaxFPS: 30},
			}},
		}
	}

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.ChunkSamples <= 0 {
		c.Audio.ChunkSamples = 1024
	}

	if c.Motion.Source == "" {
		c.Motion.Source = "simulate"
	}
	if c.Motion.UpdateRateHz <= 0 {
		c.Motion.UpdateRateHz = 120
	}
	if c.Motion.ChannelBuffer <= 0 {
		c.Motion.ChannelBuffer = 512
	}

	if c.Fusion.DeadZone == 0 {
		c.Fusion.DeadZone = 0.02
	}
	if c.Fusion.VelocityDecay == 0 {
		c.Fusion.VelocityDecay = 0.82
	}
	if c.Fusion.PositionDecay == 0 {
		c.Fusion.PositionDecay = 0.992
	}
	if c.Fusion.Sensitivity == 0 {
		c.Fusion.Sensitivity = 0.035
	}

	if c.Transform.CropFraction == 0 {
		c.Transform.CropFraction = 3.0 / 5.0 * 0.90
	}
	if c.Transform.AspectW == 0 {
		c.Transform.AspectW = 3
	}
	if c.Transform.AspectH == 0 {
		c.Transform.AspectH = 4
	}
	if c.Transform.RollAlpha == 0 {
		c.Transform.RollAlpha = 0.6
	}
	if c.Transform.TranslationAlpha == 0 {
		c.Transform.TranslationAlpha = 0.15
	}
	if c.Transform.ShiftDamping == 0 {
		c.Transform.ShiftDamping = 0.9
	}
	if c.Transform.Interpolation == "" {
		c.Transform.Interpolation = "approx-bilinear"
	}
	if c.Transform.Mode == "" {
		c.Transform.Mode = "stabilized"
	}

	if c.Display.RefreshHz <= 0 {
		c.Display.RefreshHz = 60
	}
	if c.Display.Columns <= 0 {
		c.Display.Columns = 48
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects tuning values that would make the filters diverge or the
// crop geometry meaningless.
func (c *StabilizerConfig) Validate() error {
	var errs []error
	open01 := func(name string, v float64) {
		if v <= 0 || v >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1), got %v", name, v))
		}
	}
	open01("fusion.velocity_decay", c.Fusion.VelocityDecay)
	open01("fusion.position_decay", c.Fusion.PositionDecay)
	open01("transform.shift_damping", c.Transform.ShiftDamping)

	if c.Transform.RollAlpha <= 0 || c.Transform.RollAlpha > 1 {
		errs = append(errs, fmt.Errorf("transform.roll_alpha must be in (0,1], got %v", c.Transform.RollAlpha))
	}
	if c.Transform.TranslationAlpha <= 0 || c.Transform.TranslationAlpha > 1 {
		errs = append(errs, fmt.Errorf("transform.translation_alpha must be in (0,1], got %v", c.Transform.TranslationAlpha))
	}
	if c.Transform.CropFraction <= 0 || c.Transform.CropFraction > 1 {
		errs = append(errs, fmt.Errorf("transform.crop_fraction must be in (0,1], got %v", c.Transform.CropFraction))
	}
	if c.Transform.AspectW <= 0 || c.Transform.AspectH <= 0 {
		errs = append(errs, fmt.Errorf("transform aspect must be positive, got %v:%v", c.Transform.AspectW, c.Transform.AspectH))
	}
	if c.Fusion.DeadZone < 0 {
		errs = append(errs, fmt.Errorf("fusion.dead_zone must be >= 0, got %v", c.Fusion.DeadZone))
	}
	if c.Fusion.Sensitivity <= 0 {
		errs = append(errs, fmt.Errorf("fusion.sensitivity must be > 0, got %v", c.Fusion.Sensitivity))
	}
	switch c.Camera.Source {
	case "simulate":
	case "file":
		if c.Camera.File == "" {
			errs = append(errs, errors.New("camera.file is required when camera.source=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("camera.source %q is not supported", c.Camera.Source))
	}
	return errors.Join(errs...)
}

// ApplyDefaults fills unset storage fields.
func (c *StorageConfig) ApplyDefaults() {
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = os.TempDir()
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "recordings"
	}
	if c.Storage.Catalog == "" {
		c.Storage.Catalog = filepath.Join(c.Storage.BaseDir, "catalog.db")
	}
	if c.Storage.CSV.BufferSizeKB <= 0 {
		c.Storage.CSV.BufferSizeKB = 64
	}
	if c.Storage.CSV.FlushIntervalMs <= 0 {
		c.Storage.CSV.FlushIntervalMs = 250
	}
	if c.Recording.Backend == "" {
		c.Recording.Backend = "ffmpeg"
	}
	if c.Recording.Codec == "" {
		c.Recording.Codec = "h264"
	}
	if c.Recording.Bitrate <= 0 {
		c.Recording.Bitrate = 10_000_000
	}
	if c.Recording.KeyframeInterval <= 0 {
		c.Recording.KeyframeInterval = 30
	}
	if c.Recording.Container == "" {
		c.Recording.Container = "mov"
	}
	if c.Recording.QueueDepth <= 0 {
		c.Recording.QueueDepth = 8
	}
}

// ─── Loaders ────────────────────────────────────────────────────────────

// LoadStabilizerConfig reads, defaults and validates stabilizer.yaml.
func LoadStabilizerConfig(path string) (*StabilizerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stabilizer config: %w", err)
	}
	var cfg StabilizerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse stabilizer config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stabilizer config: %w", err)
	}
	return &cfg, nil
}

// LoadStorageConfig reads storage.yaml and fills defaults.
func LoadStorageConfig(path string) (*StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storage config: %w", err)
	}
	var cfg StorageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse storage config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
