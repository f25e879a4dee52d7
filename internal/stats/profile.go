package stats

import (
	"math"

	"jointinv/internal/model"
)

// ProfileStat summarizes the ensemble's shear velocity at one depth. The
// spread across the ensemble head is the practical uncertainty estimate of
// the inversion.
type ProfileStat struct {
	DepthKm float64 `json:"depth_km"`
	BestVs  float64 `json:"best_vs_km_per_s"`
	MeanVs  float64 `json:"mean_vs_km_per_s"`
	StdVs   float64 `json:"std_vs_km_per_s"`
	MinVs   float64 `json:"min_vs_km_per_s"`
	MaxVs   float64 `json:"max_vs_km_per_s"`
}

// VsAtDepth returns the shear velocity of the layer containing the depth.
// Depths below the last interface read the half-space.
func VsAtDepth(m model.Model, depthKm float64) float64 {
	top := 0.0
	for i := 0; i < len(m.Layers)-1; i++ {
		bottom := top + m.Layers[i].ThicknessKm
		if depthKm < bottom {
			return m.Layers[i].VsKmPerS
		}
		top = bottom
	}
	return m.Layers[len(m.Layers)-1].VsKmPerS
}

// EnsembleProfile samples the best model and the ensemble head on a regular
// depth grid from the surface to maxDepthKm. head must be ranked, best
// first; an empty head yields nil.
func EnsembleProfile(head []model.CandidateRecord, maxDepthKm, stepKm float64) []ProfileStat {
	if len(head) == 0 || stepKm <= 0 || maxDepthKm <= 0 {
		return nil
	}

	n := int(maxDepthKm/stepKm) + 1
	out := make([]ProfileStat, 0, n)
	for i := 0; i < n; i++ {
		depth := float64(i) * stepKm
		values := make([]float64, len(head))
		for j, record := range head {
			values[j] = VsAtDepth(record.Model, depth)
		}
		mean, std := meanStd(values)
		lo, hi := minMax(values)
		out = append(out, ProfileStat{
			DepthKm: depth,
			BestVs:  values[0],
			MeanVs:  mean,
			StdVs:   std,
			MinVs:   lo,
			MaxVs:   hi,
		})
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return mean, math.Sqrt(sum / float64(len(values)-1))
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
