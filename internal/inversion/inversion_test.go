package inversion

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"jointinv/internal/misfit"
	"jointinv/internal/model"
)

func validBounds() Bounds {
	return Bounds{Layers: []LayerBounds{
		{MinThicknessKm: 5, MaxThicknessKm: 20, MinVsKmPerS: 2.5, MaxVsKmPerS: 4.0},
		{MinVsKmPerS: 3.8, MaxVsKmPerS: 5.2},
	}}
}

// cheapEvaluator scores models against a target top-layer velocity and
// half-space velocity with analytic stand-in forward engines, so optimizer
// tests run without the real solvers.
func cheapEvaluator(t *testing.T, targetVs0, targetVsH float64) *misfit.Evaluator {
	t.Helper()
	obs := []model.DispersionSet{{
		Wave: model.WaveRayleigh,
		Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{
			{PeriodS: 5, VelocityKmPerS: targetVs0, Sigma: 0.05},
			{PeriodS: 40, VelocityKmPerS: targetVsH, Sigma: 0.05},
		},
	}}
	fakeD := func(m model.Model, set model.DispersionSet) ([]float64, error) {
		return []float64{m.Layers[0].VsKmPerS, m.Layers[len(m.Layers)-1].VsKmPerS}, nil
	}
	e, err := misfit.NewEvaluator(obs, nil, misfit.WithForward(fakeD, nil))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestBoundsValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Bounds)
		wantErr bool
	}{
		{"valid", func(*Bounds) {}, false},
		{"no layers", func(b *Bounds) { b.Layers = nil }, true},
		{"vs min equals max", func(b *Bounds) { b.Layers[0].MinVsKmPerS = b.Layers[0].MaxVsKmPerS }, true},
		{"vs min above max", func(b *Bounds) { b.Layers[1].MinVsKmPerS = 6 }, true},
		{"thickness min equals max", func(b *Bounds) { b.Layers[0].MaxThicknessKm = b.Layers[0].MinThicknessKm }, true},
		{"non-positive thickness", func(b *Bounds) { b.Layers[0].MinThicknessKm = 0 }, true},
		{"non-positive vs", func(b *Bounds) { b.Layers[0].MinVsKmPerS = 0 }, true},
	}
	for _, tc := range cases {
		b := validBounds()
		tc.mutate(&b)
		err := b.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if tc.wantErr && err != nil && !IsConfigurationError(err) {
			t.Errorf("%s: expected ConfigurationError, got %T", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestBoundsToModelLayout(t *testing.T) {
	b := validBounds()
	if got := b.Dims(); got != 3 {
		t.Fatalf("Dims = %d, want 3", got)
	}
	m := b.ToModel([]float64{0, 0.5, 1})
	if m.Layers[0].ThicknessKm != 5 {
		t.Errorf("thickness %v, want lower bound 5", m.Layers[0].ThicknessKm)
	}
	if want := 3.25; math.Abs(m.Layers[0].VsKmPerS-want) > 1e-12 {
		t.Errorf("layer Vs %v, want midpoint %v", m.Layers[0].VsKmPerS, want)
	}
	if m.Layers[1].VsKmPerS != 5.2 {
		t.Errorf("half-space Vs %v, want upper bound 5.2", m.Layers[1].VsKmPerS)
	}
}

func TestEnsembleRankingAndTieBreak(t *testing.T) {
	e := &Ensemble{}
	for _, mf := range []float64{3, 1, 2, 1} {
		e.Add(model.Candidate{Misfit: mf})
	}
	ranked := e.Ranked()
	wantIdx := []int{1, 3, 2, 0}
	for i, c := range ranked {
		if c.Index != wantIdx[i] {
			t.Fatalf("rank %d: index %d, want %d", i, c.Index, wantIdx[i])
		}
	}
	best, ok := e.Best()
	if !ok || best.Index != 1 {
		t.Fatalf("Best = %+v ok=%v, want index 1", best, ok)
	}
	if head := e.Head(2); len(head) != 2 || head[0].Index != 1 {
		t.Fatalf("Head(2) = %+v", head)
	}
}

func TestNeighbourhoodSamplerStaysInUnitCube(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ranked := make([]samplePoint, 6)
	for i := range ranked {
		x := make([]float64, 4)
		for d := range x {
			x[d] = rng.Float64()
		}
		ranked[i] = samplePoint{x: x, misfit: float64(i)}
	}
	s := NeighbourhoodSampler{Cells: 3, Exploration: 0.2}
	for _, x := range s.Batch(rng, ranked, 4, 50) {
		if len(x) != 4 {
			t.Fatalf("sample dimensionality %d, want 4", len(x))
		}
		for d, v := range x {
			if v < 0 || v > 1 {
				t.Fatalf("coordinate %d out of unit cube: %v", d, v)
			}
		}
	}
}

func TestOptimizerBestIsMonotone(t *testing.T) {
	opt, err := NewOptimizer(Config{
		Bounds:         validBounds(),
		Evaluator:      cheapEvaluator(t, 3.2, 4.5),
		PopulationSize: 16,
		MaxRounds:      12,
		Seed:           11,
	})
	if err != nil {
		t.Fatalf("NewOptimizer: %v", err)
	}
	res, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	hist := res.Diagnostics.BestByRound
	if len(hist) != 12 {
		t.Fatalf("rounds recorded %d, want 12", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i] > hist[i-1] {
			t.Fatalf("best misfit worsened at round %d: %v -> %v", i, hist[i-1], hist[i])
		}
	}
	if res.Best.Misfit != hist[len(hist)-1] {
		t.Errorf("best %v disagrees with final history %v", res.Best.Misfit, hist[len(hist)-1])
	}
	if res.Ensemble.Len() != 16*12 {
		t.Errorf("ensemble size %d, want %d", res.Ensemble.Len(), 16*12)
	}
}

func TestOptimizerTermination(t *testing.T) {
	run := func(stallRounds int, stallTol float64) Result {
		opt, err := NewOptimizer(Config{
			Bounds:         validBounds(),
			Evaluator:      cheapEvaluator(t, 3.2, 4.5),
			PopulationSize: 10,
			MaxRounds:      30,
			StallRounds:    stallRounds,
			StallTol:       stallTol,
			Seed:           5,
		})
		if err != nil {
			t.Fatalf("NewOptimizer: %v", err)
		}
		res, err := opt.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	budget := run(0, 0)
	if budget.Diagnostics.Termination != model.TerminationBudget {
		t.Errorf("termination %q, want budget", budget.Diagnostics.Termination)
	}
	if budget.Diagnostics.Rounds != 30 {
		t.Errorf("budget run used %d rounds, want 30", budget.Diagnostics.Rounds)
	}

	converged := run(2, 0.9)
	if converged.Diagnostics.Termination != model.TerminationConverged {
		t.Errorf("termination %q, want converged", converged.Diagnostics.Termination)
	}
	if converged.Diagnostics.Rounds >= 30 {
		t.Errorf("converged run used the full budget (%d rounds)", converged.Diagnostics.Rounds)
	}
}

func TestOptimizerSeedReproducible(t *testing.T) {
	run := func() Result {
		opt, err := NewOptimizer(Config{
			Bounds:         validBounds(),
			Evaluator:      cheapEvaluator(t, 3.2, 4.5),
			PopulationSize: 12,
			MaxRounds:      6,
			Workers:        4,
			Seed:           99,
		})
		if err != nil {
			t.Fatalf("NewOptimizer: %v", err)
		}
		res, err := opt.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.Best.Misfit != b.Best.Misfit {
		t.Fatalf("best misfits differ: %v vs %v", a.Best.Misfit, b.Best.Misfit)
	}
	for i := range a.Diagnostics.BestByRound {
		if a.Diagnostics.BestByRound[i] != b.Diagnostics.BestByRound[i] {
			t.Fatalf("round %d history differs: %v vs %v", i, a.Diagnostics.BestByRound[i], b.Diagnostics.BestByRound[i])
		}
	}
}

func TestOptimizerCancellation(t *testing.T) {
	opt, err := NewOptimizer(Config{
		Bounds:         validBounds(),
		Evaluator:      cheapEvaluator(t, 3.2, 4.5),
		PopulationSize: 8,
		MaxRounds:      10,
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("NewOptimizer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := opt.Run(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestRunRejectsDegenerateBounds(t *testing.T) {
	b := validBounds()
	b.Layers[0].MinVsKmPerS = b.Layers[0].MaxVsKmPerS
	_, err := Run(context.Background(), RunConfig{
		Bounds:         b,
		PopulationSize: 8,
		MaxRounds:      2,
	})
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestRunRejectsEmptyObservations(t *testing.T) {
	_, err := Run(context.Background(), RunConfig{
		Bounds:         validBounds(),
		PopulationSize: 8,
		MaxRounds:      2,
	})
	if !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for empty observations, got %v", err)
	}
}
