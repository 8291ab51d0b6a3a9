package transform

import (
	"math"

	"stable-action/models"
)

// ComputeGeometry derives the crop for an upright (already reoriented) frame
// of frameW×frameH. Coordinates are y-up with the origin at the bottom-left.
// The crop origin keeps its sub-pixel position; only OutW/OutH are rounded.
func ComputeGeometry(frameW, frameH float64, p models.Pose, c Constants) models.CropGeometry {
	angle := -p.Roll
	cos, sin := math.Cos(angle), math.Sin(angle)
	cx, cy := frameW/2, frameH/2

	cropW, cropH := c.CropSize(math.Min(frameW, frameH))

	// shift of the crop centre in source coordinates, then into the rotated frame
	ux, uy := cropShift(frameW, frameH, cropW, cropH, angle, p, c)
	shiftX := ux*cos - uy*sin
	shiftY := ux*sin + uy*cos

	return models.CropGeometry{
		Crop: models.Rect{
			X: cx - cropW/2 + shiftX,
			Y: cy - cropH/2 + shiftY,
			W: cropW,
			H: cropH,
		},
		Angle:  angle,
		FrameW: frameW,
		FrameH: frameH,
		OutW:   evenFloor(cropW),
		OutH:   evenFloor(cropH),
	}
}

// shiftLimits returns how far the centre of a cropW×cropH rectangle, rotated
// by angle, may move along each source axis before a corner leaves the
// frameW×frameH source.
func shiftLimits(frameW, frameH, cropW, cropH, angle float64) (mx, my float64) {
	cos, sin := math.Abs(math.Cos(angle)), math.Abs(math.Sin(angle))
	ex := cropW/2*cos + cropH/2*sin
	ey := cropW/2*sin + cropH/2*cos
	return math.Max(0, frameW/2-ex), math.Max(0, frameH/2-ey)
}

// cropShift maps the pose offsets onto the feasible shift box, damped.
func cropShift(frameW, frameH, cropW, cropH, angle float64, p models.Pose, c Constants) (ux, uy float64) {
	p = p.Clamped()
	mx, my := shiftLimits(frameW, frameH, cropW, cropH, angle)
	return p.OffsetX * mx * c.ShiftDamping, p.OffsetY * my * c.ShiftDamping
}

// Point is a screen-space coordinate (y down).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Overlay is the crop rectangle as drawn over a viewport of the raw preview.
type Overlay struct {
	Center Point   `json:"center"`
	W      float64 `json:"w"`
	H      float64 `json:"h"`
	Angle  float64 `json:"angle"`
}

// OverlayGeometry places the crop rectangle on a viewW×viewH viewport using
// the same constants as the transform. Screen space is y-down, so the Y shift
// is negated.
func OverlayGeometry(viewW, viewH float64, p models.Pose, c Constants) Overlay {
	w, h := c.CropSize(math.Min(viewW, viewH))
	ux, uy := cropShift(viewW, viewH, w, h, -p.Roll, p, c)
	return Overlay{
		Center: Point{
			X: viewW/2 + ux,
			Y: viewH/2 - uy,
		},
		W:     w,
		H:     h,
		Angle: -p.Roll,
	}
}

// Corners returns the rectangle corners in screen space, clockwise from the
// top-left of the unrotated rectangle.
func (o Overlay) Corners() [4]Point {
	cos, sin := math.Cos(o.Angle), math.Sin(o.Angle)
	hw, hh := o.W/2, o.H/2
	local := [4]Point{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	var out [4]Point
	for i, l := range local {
		out[i] = Point{
			X: o.Center.X + l.X*cos - l.Y*sin,
			Y: o.Center.Y + l.X*sin + l.Y*cos,
		}
	}
	return out
}
