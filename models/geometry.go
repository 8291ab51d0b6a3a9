package models

// Rect is a floating-point rectangle, origin at the bottom-left (y up).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) CenterX() float64 { return r.X + r.W/2 }
func (r Rect) CenterY() float64 { return r.Y + r.H/2 }

// CropGeometry is derived per frame from the frame size and the pose; it is
// never cached across frames.
type CropGeometry struct {
	Crop   Rect    `json:"crop"`
	Angle  float64 `json:"angle"` // counter-rotation applied, radians
	FrameW float64 `json:"frame_w"`
	FrameH float64 `json:"frame_h"`
	OutW   int     `json:"out_w"`
	OutH   int     `json:"out_h"`
}
