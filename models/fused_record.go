package models

import "time"

// PoseTelemetry is one row of the per-recording pose sidecar: the raw pose
// snapshot, the smoothed pose the transform used, and the resulting crop.
type PoseTelemetry struct {
	PTS      time.Duration `json:"pts"`
	Raw      Pose          `json:"raw"`
	Smoothed Pose          `json:"smoothed"`
	Crop     Rect          `json:"crop"`
	OutW     int           `json:"out_w"`
	OutH     int           `json:"out_h"`
}

// CSVHeader returns the telemetry CSV header.
func (PoseTelemetry) CSVHeader() []string {
	return []string{
		"pts_ns",
		"raw_roll", "raw_offset_x", "raw_offset_y",
		"roll", "offset_x", "offset_y",
		"crop_x", "crop_y", "crop_w", "crop_h",
		"out_w", "out_h",
	}
}

func (t *PoseTelemetry) CSVRow() []string {
	return []string{
		itoa64(int64(t.PTS)),
		ftoa(t.Raw.Roll, 6), ftoa(t.Raw.OffsetX, 6), ftoa(t.Raw.OffsetY, 6),
		ftoa(t.Smoothed.Roll, 6), ftoa(t.Smoothed.OffsetX, 6), ftoa(t.Smoothed.OffsetY, 6),
		ftoa(t.Crop.X, 3), ftoa(t.Crop.Y, 3), ftoa(t.Crop.W, 3), ftoa(t.Crop.H, 3),
		itoa(t.OutW), itoa(t.OutH),
	}
}
