package inversion

import "math/rand"

// samplePoint is one evaluated position in the unit hypercube. The optimizer
// keeps these alongside the ensemble so resampling never has to invert the
// bounds mapping.
type samplePoint struct {
	x      []float64
	misfit float64
}

// Sampler draws the next batch of unit-hypercube positions from the history
// of evaluated points. ranked is sorted by increasing misfit and must not be
// mutated.
type Sampler interface {
	Batch(rng *rand.Rand, ranked []samplePoint, dims, count int) [][]float64
}

// UniformSampler ignores the history and draws uniformly over the whole
// space. It seeds the initial population and serves as a baseline.
type UniformSampler struct{}

func (UniformSampler) Batch(rng *rand.Rand, _ []samplePoint, dims, count int) [][]float64 {
	out := make([][]float64, count)
	for i := range out {
		x := make([]float64, dims)
		for d := range x {
			x[d] = rng.Float64()
		}
		out[i] = x
	}
	return out
}

// NeighbourhoodSampler concentrates new samples in the Voronoi cells of the
// best evaluated points, walking each cell with a coordinate-wise Gibbs
// sampler (Sambridge's neighbourhood algorithm). A fixed fraction of every
// batch is drawn uniformly instead, so the search never loses the ability to
// leave the current best region.
type NeighbourhoodSampler struct {
	// Cells is the number of best points whose neighbourhoods are resampled.
	Cells int
	// Exploration is the fraction of each batch drawn uniformly at random.
	Exploration float64
}

func (s NeighbourhoodSampler) Batch(rng *rand.Rand, ranked []samplePoint, dims, count int) [][]float64 {
	if len(ranked) == 0 {
		return UniformSampler{}.Batch(rng, nil, dims, count)
	}
	cells := s.Cells
	if cells <= 0 {
		cells = 1
	}
	if cells > len(ranked) {
		cells = len(ranked)
	}

	out := make([][]float64, count)
	for i := range out {
		if rng.Float64() < s.Exploration {
			x := make([]float64, dims)
			for d := range x {
				x[d] = rng.Float64()
			}
			out[i] = x
			continue
		}
		// Round-robin over the best cells so each neighbourhood receives a
		// comparable share of the batch.
		out[i] = s.walkCell(rng, ranked, i%cells, dims)
	}
	return out
}

// walkCell performs one full Gibbs sweep inside the Voronoi cell of
// ranked[cell]. Along each axis the cell is an interval bounded by the
// perpendicular bisectors against every other point; the next coordinate is
// drawn uniformly from that interval. Perpendicular distances are maintained
// incrementally as the sweep moves between axes.
func (s NeighbourhoodSampler) walkCell(rng *rand.Rand, ranked []samplePoint, cell, dims int) []float64 {
	v := ranked[cell].x
	x := make([]float64, dims)
	copy(x, v)

	// dperp[k] = squared distance from x to ranked[k] over all axes except
	// the one currently being sampled.
	dperp := make([]float64, len(ranked))
	for k := range ranked {
		sum := 0.0
		for d := 1; d < dims; d++ {
			diff := x[d] - ranked[k].x[d]
			sum += diff * diff
		}
		dperp[k] = sum
	}

	for axis := 0; axis < dims; axis++ {
		lo, hi := 0.0, 1.0
		vj := v[axis]
		dj := dperp[cell]
		for k := range ranked {
			if k == cell {
				continue
			}
			vk := ranked[k].x[axis]
			if vk == vj {
				continue
			}
			// Intersection of the bisector between cells j and k with the
			// current axis line.
			xi := (dj + vj*vj - dperp[k] - vk*vk) / (2 * (vj - vk))
			if vk > vj {
				if xi < hi {
					hi = xi
				}
			} else if xi > lo {
				lo = xi
			}
		}
		if hi < lo {
			lo, hi = vj, vj
		}
		x[axis] = lo + rng.Float64()*(hi-lo)

		if axis+1 < dims {
			for k := range ranked {
				d0 := x[axis] - ranked[k].x[axis]
				d1 := x[axis+1] - ranked[k].x[axis+1]
				dperp[k] += d0*d0 - d1*d1
			}
		}
	}
	return x
}
