// Package inversion drives the global search over bounded layered models.
// One Optimizer owns one run; independent runs share no state and may
// execute concurrently.
package inversion

import (
	"errors"
	"fmt"

	"jointinv/internal/model"
)

// ConfigurationError marks structural problems reported before any forward
// computation is spent: degenerate bounds, empty observations, bad run
// parameters. It is the only error class an inversion run returns.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "inversion configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// LayerBounds is the feasible range for one layer. For the bottom layer (the
// half-space) only the velocity range applies and the thickness range is
// ignored.
type LayerBounds struct {
	MinThicknessKm float64 `json:"min_thickness_km" yaml:"min_thickness_km"`
	MaxThicknessKm float64 `json:"max_thickness_km" yaml:"max_thickness_km"`
	MinVsKmPerS    float64 `json:"min_vs_km_per_s" yaml:"min_vs_km_per_s"`
	MaxVsKmPerS    float64 `json:"max_vs_km_per_s" yaml:"max_vs_km_per_s"`
}

// Bounds is the full parameterization of a run: the layer count is fixed up
// front and every searchable dimension has a strict min < max range.
type Bounds struct {
	Layers []LayerBounds `json:"layers" yaml:"layers"`
	VpVs   float64       `json:"vp_vs,omitempty" yaml:"vp_vs,omitempty"`
}

// Validate rejects degenerate parameterizations with a ConfigurationError.
func (b Bounds) Validate() error {
	if len(b.Layers) == 0 {
		return configErrorf("bounds define no layers")
	}
	if b.VpVs < 0 {
		return configErrorf("vp/vs ratio must be >= 0, got %g", b.VpVs)
	}
	last := len(b.Layers) - 1
	for i, lb := range b.Layers {
		if lb.MinVsKmPerS <= 0 {
			return configErrorf("layer %d: min Vs must be > 0, got %g", i, lb.MinVsKmPerS)
		}
		if lb.MinVsKmPerS >= lb.MaxVsKmPerS {
			return configErrorf("layer %d: Vs bounds [%g, %g] need min < max", i, lb.MinVsKmPerS, lb.MaxVsKmPerS)
		}
		if i == last {
			continue
		}
		if lb.MinThicknessKm <= 0 {
			return configErrorf("layer %d: min thickness must be > 0, got %g", i, lb.MinThicknessKm)
		}
		if lb.MinThicknessKm >= lb.MaxThicknessKm {
			return configErrorf("layer %d: thickness bounds [%g, %g] need min < max", i, lb.MinThicknessKm, lb.MaxThicknessKm)
		}
	}
	return nil
}

// Dims returns the search-space dimensionality: thickness and Vs per finite
// layer, Vs only for the half-space.
func (b Bounds) Dims() int {
	if len(b.Layers) == 0 {
		return 0
	}
	return 2*(len(b.Layers)-1) + 1
}

// ToModel maps a point of the unit hypercube to a layered model. The
// coordinate layout is (thickness_0, vs_0, ..., thickness_{L-2}, vs_{L-2},
// vs_halfspace), each scaled linearly into its bound range.
func (b Bounds) ToModel(x []float64) model.Model {
	layers := make([]model.Layer, len(b.Layers))
	pos := 0
	last := len(b.Layers) - 1
	for i, lb := range b.Layers {
		if i < last {
			layers[i].ThicknessKm = lerp(lb.MinThicknessKm, lb.MaxThicknessKm, x[pos])
			pos++
		}
		layers[i].VsKmPerS = lerp(lb.MinVsKmPerS, lb.MaxVsKmPerS, x[pos])
		pos++
	}
	return model.Model{Layers: layers, VpVs: b.VpVs}
}

func lerp(lo, hi, t float64) float64 {
	return lo + t*(hi-lo)
}
