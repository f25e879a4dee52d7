package inversion

import (
	"sort"

	"jointinv/internal/model"
)

// Ensemble is the full exploration history of one run. It only grows:
// candidates are appended in evaluation order and never removed, so the
// posterior analysis downstream sees everything the search visited. Ranking
// is by misfit with insertion index as the deterministic tie-break.
type Ensemble struct {
	all []model.Candidate
}

// Add appends a candidate, assigning its insertion index.
func (e *Ensemble) Add(c model.Candidate) {
	c.Index = len(e.all)
	e.all = append(e.all, c)
}

// Len returns the number of candidates accumulated so far.
func (e *Ensemble) Len() int { return len(e.all) }

// All returns the candidates in insertion order. The slice is a copy.
func (e *Ensemble) All() []model.Candidate {
	out := make([]model.Candidate, len(e.all))
	copy(out, e.all)
	return out
}

// Ranked returns the candidates sorted by increasing misfit, ties broken by
// insertion index. The slice is a copy.
func (e *Ensemble) Ranked() []model.Candidate {
	out := e.All()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Misfit != out[j].Misfit {
			return out[i].Misfit < out[j].Misfit
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Head returns the n best candidates, or all of them when n exceeds the
// ensemble size or is non-positive.
func (e *Ensemble) Head(n int) []model.Candidate {
	ranked := e.Ranked()
	if n <= 0 || n > len(ranked) {
		return ranked
	}
	return ranked[:n]
}

// Best returns the lowest-misfit candidate and false when the ensemble is
// empty.
func (e *Ensemble) Best() (model.Candidate, bool) {
	if len(e.all) == 0 {
		return model.Candidate{}, false
	}
	best := e.all[0]
	for _, c := range e.all[1:] {
		if c.Misfit < best.Misfit {
			best = c
		}
	}
	return best, true
}
