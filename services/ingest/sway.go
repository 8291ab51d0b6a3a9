package ingest

import "math"

// handheld sway shared by the simulated camera and the simulated motion
// sensor, so the stabilizer has something real to cancel.
const (
	swayPixelsPerMetre = 2000.0
)

type swayState struct {
	Roll   float64 // radians
	DX, DY float64 // metres
	AX, AY float64 // m/s²
}

type wave struct{ amp, hz, phase float64 }

var (
	rollWaves = []wave{{0.10, 0.6, 0}, {0.05, 1.7, 0.4}}
	xWaves    = []wave{{0.020, 1.1, 0}, {0.006, 3.1, 1.3}}
	yWaves    = []wave{{0.015, 0.8, 1.0}}
)

func swayAt(t float64) swayState {
	var s swayState
	for _, w := range rollWaves {
		s.Roll += w.amp * math.Sin(2*math.Pi*w.hz*t+w.phase)
	}
	s.DX, s.AX = displacement(xWaves, t)
	s.DY, s.AY = displacement(yWaves, t)
	return s
}

// displacement returns position and its second derivative.
func displacement(ws []wave, t float64) (pos, acc float64) {
	for _, w := range ws {
		om := 2 * math.Pi * w.hz
		v := w.amp * math.Sin(om*t+w.phase)
		pos += v
		acc -= om * om * v
	}
	return pos, acc
}
