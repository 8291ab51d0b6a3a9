// Package transform computes and renders the per-frame stabilizing crop:
// reorient to portrait, counter-rotate by the smoothed roll, shift by the
// smoothed offset inside the available margin, crop to the target aspect.
package transform

import (
	"fmt"
	"strings"

	"golang.org/x/image/draw"

	"stable-action/utils"
)

// Constants is shared by the frame transform and every overlay that draws the
// crop region. Both must read the same values or preview and recording diverge.
type Constants struct {
	CropFraction     float64
	AspectW          float64
	AspectH          float64
	RollAlpha        float64
	TranslationAlpha float64
	ShiftDamping     float64
}

func DefaultConstants() Constants {
	return Constants{
		CropFraction:     3.0 / 5.0 * 0.90,
		AspectW:          3,
		AspectH:          4,
		RollAlpha:        0.6,
		TranslationAlpha: 0.15,
		ShiftDamping:     0.9,
	}
}

// ConstantsFromConfig lifts the YAML transform section.
func ConstantsFromConfig(cfg utils.TransformConfig) Constants {
	return Constants{
		CropFraction:     cfg.CropFraction,
		AspectW:          cfg.AspectW,
		AspectH:          cfg.AspectH,
		RollAlpha:        cfg.RollAlpha,
		TranslationAlpha: cfg.TranslationAlpha,
		ShiftDamping:     cfg.ShiftDamping,
	}
}

// CropSize returns the crop dimensions for a frame whose shorter side is
// shorter. The recording session uses it to size the writer at start.
func (c Constants) CropSize(shorter float64) (w, h float64) {
	w = shorter * c.CropFraction
	h = w * (c.AspectH / c.AspectW)
	return w, h
}

// OutputDims floors the crop size to even pixel counts, minimum 2.
func (c Constants) OutputDims(shorter float64) (int, int) {
	w, h := c.CropSize(shorter)
	return evenFloor(w), evenFloor(h)
}

func evenFloor(v float64) int {
	n := int(v) &^ 1
	if n < 2 {
		return 2
	}
	return n
}

// ParseInterpolator maps a config name onto an x/image interpolator.
func ParseInterpolator(name string) (draw.Interpolator, error) {
	switch strings.ToLower(name) {
	case "nearest", "nearest-neighbor":
		return draw.NearestNeighbor, nil
	case "", "approx-bilinear":
		return draw.ApproxBiLinear, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "catmull-rom":
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown interpolation %q", name)
}
