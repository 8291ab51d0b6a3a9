// Package fusion turns raw device-motion samples into a Pose: roll from the
// gravity vector and a bounded, self-centering drift offset from a cascaded
// leaky integrator over user acceleration.
package fusion

import (
	"math"

	"stable-action/models"
	"stable-action/utils"
)

// Params tunes the integrator. Zero values are not valid; use DefaultParams.
type Params struct {
	Dt            float64 // seconds per update
	DeadZone      float64 // m/s²
	VelocityDecay float64
	PositionDecay float64
	Sensitivity   float64
}

func DefaultParams() Params {
	return Params{
		Dt:            1.0 / 120.0,
		DeadZone:      0.02,
		VelocityDecay: 0.82,
		PositionDecay: 0.992,
		Sensitivity:   0.035,
	}
}

// ParamsFromConfig lifts the configured tuning; dt follows the motion rate.
func ParamsFromConfig(f utils.FusionConfig, rateHz int) Params {
	p := Params{
		Dt:            1.0 / 120.0,
		DeadZone:      f.DeadZone,
		VelocityDecay: f.VelocityDecay,
		PositionDecay: f.PositionDecay,
		Sensitivity:   f.Sensitivity,
	}
	if rateHz > 0 {
		p.Dt = 1 / float64(rateHz)
	}
	return p
}

// Integrator holds per-axis velocity and offset state.
// It is owned by the sensor goroutine and is not safe for concurrent use.
type Integrator struct {
	p Params

	velX, velY float64
	offX, offY float64
}

func NewIntegrator(p Params) *Integrator {
	return &Integrator{p: p}
}

// Step consumes one sample and returns the updated pose.
func (in *Integrator) Step(s models.MotionSample) models.Pose {
	roll := math.Atan2(s.Gravity.X, -s.Gravity.Y)

	ax := deadZone(s.UserAcceleration.X, in.p.DeadZone)
	ay := deadZone(s.UserAcceleration.Y, in.p.DeadZone)

	in.velX = (in.velX + ax*in.p.Dt) * in.p.VelocityDecay
	in.velY = (in.velY + ay*in.p.Dt) * in.p.VelocityDecay

	in.offX = (in.offX - in.velX*in.p.Sensitivity) * in.p.PositionDecay
	in.offY = (in.offY - in.velY*in.p.Sensitivity) * in.p.PositionDecay

	p := models.Pose{Roll: roll, OffsetX: in.offX, OffsetY: in.offY}.Clamped()
	// keep internal state inside the clamp so recovery starts from the edge
	in.offX, in.offY = p.OffsetX, p.OffsetY
	return p
}

// Reset zeroes velocity and offset.
func (in *Integrator) Reset() {
	in.velX, in.velY = 0, 0
	in.offX, in.offY = 0, 0
}

func deadZone(a, dz float64) float64 {
	if math.Abs(a) < dz {
		return 0
	}
	return a
}
