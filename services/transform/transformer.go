package transform

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"stable-action/models"
)

// Mode selects what the display path shows. Switching never touches the
// capture device or the smoother.
type Mode int32

const (
	Stabilized Mode = iota
	Passthrough
)

func (m Mode) String() string {
	if m == Passthrough {
		return "passthrough"
	}
	return "stabilized"
}

// Toggle flips between the two modes.
func (m Mode) Toggle() Mode {
	if m == Stabilized {
		return Passthrough
	}
	return Stabilized
}

func ParseMode(s string) (Mode, bool) {
	switch s {
	case "stabilized", "stabilised", "on":
		return Stabilized, true
	case "passthrough", "raw", "off":
		return Passthrough, true
	}
	return Stabilized, false
}

// Transformer renders stabilized frames. It is owned by the capture goroutine.
type Transformer struct {
	c      Constants
	interp draw.Interpolator
	smooth *Smoother
}

func NewTransformer(c Constants, interp draw.Interpolator) *Transformer {
	if interp == nil {
		interp = draw.ApproxBiLinear
	}
	return &Transformer{c: c, interp: interp, smooth: NewSmoother(c)}
}

func (t *Transformer) Constants() Constants { return t.c }

// Smoothed returns the pose used for the most recent frame.
func (t *Transformer) Smoothed() models.Pose { return t.smooth.Current() }

// Process applies one pose snapshot to one landscape frame. The returned frame
// is new, even-sized and carries the input PTS.
func (t *Transformer) Process(frame *models.VideoFrame, pose models.Pose) (*models.VideoFrame, models.CropGeometry) {
	sp := t.smooth.Update(pose)

	// upright extent after the fixed 90° reorientation
	pw, ph := float64(frame.Height), float64(frame.Width)
	g := ComputeGeometry(pw, ph, sp, t.c)

	dst := image.NewRGBA(image.Rect(0, 0, g.OutW, g.OutH))
	t.interp.Transform(dst, cropAffine(frame, g), frame.Image, frame.Image.Bounds(), draw.Src, nil)

	return &models.VideoFrame{Image: dst, PTS: frame.PTS, Width: g.OutW, Height: g.OutH}, g
}

// Upright reorients a landscape frame to portrait without cropping, for the
// passthrough display path.
func Upright(frame *models.VideoFrame) *models.VideoFrame {
	dst := image.NewRGBA(image.Rect(0, 0, frame.Height, frame.Width))
	draw.NearestNeighbor.Transform(dst, reorient(float64(frame.Height)), frame.Image, frame.Image.Bounds(), draw.Src, nil)
	return &models.VideoFrame{Image: dst, PTS: frame.PTS, Width: frame.Height, Height: frame.Width}
}

// cropAffine builds the single source→destination map:
// raw landscape (y down) → portrait (y down) → portrait (y up) → rotate about
// centre → translate crop origin to zero → output (y down).
func cropAffine(frame *models.VideoFrame, g models.CropGeometry) f64.Aff3 {
	w := float64(frame.Width)
	h := float64(frame.Height)

	cos, sin := math.Cos(g.Angle), math.Sin(g.Angle)
	cx, cy := g.FrameW/2, g.FrameH/2

	m := reorient(h)
	m = mul(f64.Aff3{1, 0, 0, 0, -1, w}, m)
	m = mul(f64.Aff3{
		cos, -sin, cx - cx*cos + cy*sin,
		sin, cos, cy - cx*sin - cy*cos,
	}, m)
	m = mul(f64.Aff3{1, 0, -g.Crop.X, 0, 1, -g.Crop.Y}, m)
	m = mul(f64.Aff3{1, 0, 0, 0, -1, g.Crop.H}, m)
	return m
}

// reorient rotates a landscape raster of height h 90° clockwise.
func reorient(h float64) f64.Aff3 {
	return f64.Aff3{0, -1, h, 1, 0, 0}
}

// mul returns a∘b (b applied first).
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
