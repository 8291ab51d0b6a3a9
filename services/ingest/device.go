package ingest

import (
	"fmt"
	"math"

	"stable-action/models"
	"stable-action/utils"
)

// Camera variants.
const (
	VariantWide      = "wide"
	VariantUltraWide = "ultra-wide"
	VariantTelephoto = "telephoto"
)

// Variants is the cycle order used by the UI.
var Variants = []string{VariantWide, VariantUltraWide, VariantTelephoto}

// Stabilization hints passed to the capture layer's own stabilization.
const (
	HintStandard = "standard"
	HintEnhanced = "enhanced"
)

// Format is the negotiated capture format.
type Format struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

func (f Format) Dims() models.Dims { return models.Dims{Width: f.Width, Height: f.Height} }

// ShortSide is the smaller of the two dimensions.
func (f Format) ShortSide() int {
	if f.Width < f.Height {
		return f.Width
	}
	return f.Height
}

// DefaultFormat is used when a device advertises no acceptable 4:3 format.
var DefaultFormat = Format{Width: 640, Height: 480, FPS: 30}

// SelectDevice finds the requested camera variant. A missing variant falls
// back to the wide camera; the returned error then wraps
// ErrConfigurationRejected while the device is still usable.
func SelectDevice(devices []utils.DeviceConfig, variant string) (utils.DeviceConfig, error) {
	for _, d := range devices {
		if d.Variant == variant {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.Variant == VariantWide {
			return d, fmt.Errorf("%w: camera %q not present, using %q",
				models.ErrConfigurationRejected, variant, VariantWide)
		}
	}
	return utils.DeviceConfig{}, fmt.Errorf("%w: no %q or %q camera", models.ErrDeviceUnavailable, variant, VariantWide)
}

// BestFourByThree picks a 4:3 format (±0.01) that reaches 30 fps, preferring
// formats that reach 60 fps and then the widest. ok is false when nothing
// qualifies and DefaultFormat is returned.
func BestFourByThree(formats []utils.FormatConfig) (Format, bool) {
	const target = 4.0 / 3.0

	var best utils.FormatConfig
	found := false
	for _, f := range formats {
		if f.Width <= 0 || f.Height <= 0 || f.MaxFPS < 30 {
			continue
		}
		if math.Abs(float64(f.Width)/float64(f.Height)-target) >= 0.01 {
			continue
		}
		if !found || better(f, best) {
			best, found = f, true
		}
	}
	if !found {
		return DefaultFormat, false
	}

	fps := 30.0
	if best.MaxFPS >= 60 {
		fps = 60
	}
	return Format{Width: best.Width, Height: best.Height, FPS: fps}, true
}

func better(a, b utils.FormatConfig) bool {
	a60, b60 := a.MaxFPS >= 60, b.MaxFPS >= 60
	if a60 != b60 {
		return a60
	}
	return a.Width > b.Width
}

// NextVariant returns the variant after v in the cycle order.
func NextVariant(v string) string {
	for i, n := range Variants {
		if n == v {
			return Variants[(i+1)%len(Variants)]
		}
	}
	return VariantWide
}
