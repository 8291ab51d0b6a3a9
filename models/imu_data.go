package models

import (
	"math"
	"strconv"
	"time"
)

// Vector3 is a three-axis reading in the device frame.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MotionSample is one device-motion update: gravity direction (unit g) and
// gravity-removed user acceleration (m/s²).
type MotionSample struct {
	Gravity          Vector3       `json:"gravity"`
	UserAcceleration Vector3       `json:"user_acceleration"`
	Timestamp        time.Duration `json:"timestamp"`
}

func (MotionSample) CSVHeader() []string {
	return []string{
		"timestamp_ns",
		"gravity_x", "gravity_y", "gravity_z",
		"accel_x", "accel_y", "accel_z",
	}
}

func (s *MotionSample) CSVRow() []string {
	return []string{
		itoa64(int64(s.Timestamp)),
		ftoa(s.Gravity.X, 6), ftoa(s.Gravity.Y, 6), ftoa(s.Gravity.Z, 6),
		ftoa(s.UserAcceleration.X, 6), ftoa(s.UserAcceleration.Y, 6), ftoa(s.UserAcceleration.Z, 6),
	}
}

// ParseMotionRow is the inverse of CSVRow.
func ParseMotionRow(row []string) (MotionSample, error) {
	var s MotionSample
	if len(row) < 7 {
		return s, ErrShortRow
	}
	ns, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return s, err
	}
	var v [6]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(row[i+1], 64); err != nil {
			return s, err
		}
	}
	s.Timestamp = time.Duration(ns)
	s.Gravity = Vector3{v[0], v[1], v[2]}
	s.UserAcceleration = Vector3{v[3], v[4], v[5]}
	return s, nil
}

// Pose is the stabilizer's estimate of device orientation and drift.
// Roll is radians; offsets are normalized to [-1, 1].
type Pose struct {
	Roll    float64 `json:"roll"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// IdentityPose is the pose reported before any motion update and after stop.
func IdentityPose() Pose { return Pose{} }

func (p Pose) IsIdentity() bool { return p == Pose{} }

// Clamped limits both offsets to [-1, 1].
func (p Pose) Clamped() Pose {
	p.OffsetX = math.Max(-1, math.Min(1, p.OffsetX))
	p.OffsetY = math.Max(-1, math.Min(1, p.OffsetY))
	return p
}
