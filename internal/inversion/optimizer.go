package inversion

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"jointinv/internal/misfit"
	"jointinv/internal/model"
)

// Config parameterizes one optimizer run. Zero values fall back to the
// defaults noted per field.
type Config struct {
	Bounds    Bounds
	Evaluator *misfit.Evaluator

	// PopulationSize is the batch size of every round, including the
	// uniform initial round.
	PopulationSize int
	// MaxRounds bounds the total rounds, initial round included.
	MaxRounds int
	// StallRounds terminates early after this many consecutive rounds whose
	// relative best-misfit improvement stays below StallTol. Zero disables
	// early termination.
	StallRounds int
	StallTol    float64
	// ResampleCells and Exploration configure the neighbourhood sampler;
	// defaults are PopulationSize/2 cells and 0.15.
	ResampleCells int
	Exploration   float64
	// Workers caps concurrent candidate evaluations; defaults to 1.
	Workers int
	Seed    int64
}

// Result is the terminal state of a run.
type Result struct {
	Best        model.Candidate
	Ensemble    *Ensemble
	Diagnostics model.RunDiagnostics
}

// Optimizer drives the round-based neighbourhood search. It is not safe for
// concurrent use; run one Optimizer per spatial node.
type Optimizer struct {
	cfg     Config
	rng     *rand.Rand
	sampler Sampler
}

// NewOptimizer validates the configuration and returns a ready optimizer.
// All validation failures are ConfigurationErrors; once NewOptimizer
// succeeds, Run can only terminate normally or by context cancellation.
func NewOptimizer(cfg Config) (*Optimizer, error) {
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Evaluator == nil {
		return nil, configErrorf("evaluator is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, configErrorf("population size must be > 0, got %d", cfg.PopulationSize)
	}
	if cfg.MaxRounds <= 0 {
		return nil, configErrorf("round budget must be > 0, got %d", cfg.MaxRounds)
	}
	if cfg.StallRounds < 0 {
		return nil, configErrorf("stall rounds must be >= 0, got %d", cfg.StallRounds)
	}
	if cfg.StallTol < 0 {
		return nil, configErrorf("stall tolerance must be >= 0, got %g", cfg.StallTol)
	}
	if cfg.Exploration < 0 || cfg.Exploration >= 1 {
		return nil, configErrorf("exploration fraction must be in [0, 1), got %g", cfg.Exploration)
	}
	if cfg.Exploration == 0 {
		cfg.Exploration = 0.15
	}
	if cfg.ResampleCells <= 0 {
		cfg.ResampleCells = cfg.PopulationSize / 2
		if cfg.ResampleCells == 0 {
			cfg.ResampleCells = 1
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Optimizer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		sampler: NeighbourhoodSampler{
			Cells:       cfg.ResampleCells,
			Exploration: cfg.Exploration,
		},
	}, nil
}

// Run executes the search to termination. Cancellation is honored at round
// boundaries only, so a returned ensemble is always round-consistent.
func (o *Optimizer) Run(ctx context.Context) (Result, error) {
	dims := o.cfg.Bounds.Dims()
	ensemble := &Ensemble{}
	points := make([]samplePoint, 0, o.cfg.PopulationSize*o.cfg.MaxRounds)

	bestByRound := make([]float64, 0, o.cfg.MaxRounds)
	best := model.Candidate{Misfit: misfit.SentinelMisfit + 1}
	stalled := 0
	termination := model.TerminationBudget
	rounds := 0

	for round := 0; round < o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		var batch [][]float64
		if round == 0 {
			batch = UniformSampler{}.Batch(o.rng, nil, dims, o.cfg.PopulationSize)
		} else {
			batch = o.sampler.Batch(o.rng, rankPoints(points), dims, o.cfg.PopulationSize)
		}

		evaluated := o.evaluateBatch(ctx, batch)
		prevBest := best.Misfit
		for i, cand := range evaluated {
			ensemble.Add(cand)
			points = append(points, samplePoint{x: batch[i], misfit: cand.Misfit})
			if cand.Misfit < best.Misfit {
				best = cand
				best.Index = ensemble.Len() - 1
			}
		}
		rounds = round + 1
		bestByRound = append(bestByRound, best.Misfit)

		if o.cfg.StallRounds > 0 && round > 0 {
			if relativeImprovement(prevBest, best.Misfit) < o.cfg.StallTol {
				stalled++
			} else {
				stalled = 0
			}
			if stalled >= o.cfg.StallRounds {
				termination = model.TerminationConverged
				rounds = round + 1
				break
			}
		}
	}

	return Result{
		Best:     best,
		Ensemble: ensemble,
		Diagnostics: model.RunDiagnostics{
			Rounds:      rounds,
			Evaluations: ensemble.Len(),
			BestMisfit:  best.Misfit,
			Termination: termination,
			BestByRound: bestByRound,
		},
	}, nil
}

func relativeImprovement(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (prev - cur) / prev
}

// rankPoints returns the history sorted by increasing misfit without
// mutating the insertion-ordered slice. The stable sort keeps insertion
// order as the tie-break, matching the ensemble's ranking.
func rankPoints(points []samplePoint) []samplePoint {
	out := make([]samplePoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].misfit < out[j].misfit })
	return out
}

// evaluateBatch scores one round's candidates on the worker pool. Results
// are written by batch index, so evaluation order never affects the
// ensemble's insertion order.
func (o *Optimizer) evaluateBatch(ctx context.Context, batch [][]float64) []model.Candidate {
	type job struct {
		idx int
		x   []float64
	}
	type result struct {
		idx  int
		cand model.Candidate
	}

	jobs := make(chan job)
	results := make(chan result, len(batch))

	workerCount := o.cfg.Workers
	if workerCount > len(batch) {
		workerCount = len(batch)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					results <- result{idx: j.idx, cand: model.Candidate{
						Model:            o.cfg.Bounds.ToModel(j.x),
						Misfit:           misfit.SentinelMisfit,
						DispersionMisfit: misfit.SentinelMisfit,
						ReceiverMisfit:   misfit.SentinelMisfit,
						Sentinel:         true,
					}}
					continue
				}
				results <- result{idx: j.idx, cand: o.cfg.Evaluator.Evaluate(o.cfg.Bounds.ToModel(j.x))}
			}
		}()
	}

	for i := range batch {
		jobs <- job{idx: i, x: batch[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]model.Candidate, len(batch))
	for res := range results {
		out[res.idx] = res.cand
	}
	return out
}
