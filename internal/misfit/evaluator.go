// Package misfit scores candidate earth models against the observations of
// one spatial node. Evaluation is pure: the same model and observations
// always produce the same candidate, and forward-model failures are absorbed
// as a sentinel maximal misfit instead of propagating.
package misfit

import (
	"errors"
	"math"

	"jointinv/internal/forward"
	"jointinv/internal/model"
)

// SentinelMisfit is assigned to candidates whose forward computation failed.
// It is large enough to rank below every physically evaluated model.
const SentinelMisfit = 1e9

// Weights balances the two data sets in the combined cost. Each component is
// already normalized by its observation uncertainty, so the weights express
// relative trust, not units.
type Weights struct {
	Dispersion float64
	Receiver   float64
}

// DefaultWeights trusts both data sets equally.
func DefaultWeights() Weights {
	return Weights{Dispersion: 0.5, Receiver: 0.5}
}

// DispersionFn and ReceiverFn are the forward engines the evaluator composes.
// They are fields rather than hard calls so tests can substitute analytic
// stand-ins.
type (
	DispersionFn func(model.Model, model.DispersionSet) ([]float64, error)
	ReceiverFn   func(model.Model, model.ReceiverFunction) ([]float64, error)
)

// Evaluator holds one node's observations and produces candidates.
type Evaluator struct {
	dispersion []model.DispersionSet
	receiver   *model.ReceiverFunction
	weights    Weights

	dispersionFn DispersionFn
	receiverFn   ReceiverFn
}

// Option configures an Evaluator beyond its observations.
type Option func(*Evaluator)

// WithWeights overrides the default equal weighting.
func WithWeights(w Weights) Option {
	return func(e *Evaluator) { e.weights = w }
}

// WithForward substitutes the forward engines. Nil entries keep the default.
func WithForward(d DispersionFn, r ReceiverFn) Option {
	return func(e *Evaluator) {
		if d != nil {
			e.dispersionFn = d
		}
		if r != nil {
			e.receiverFn = r
		}
	}
}

// NewEvaluator validates the observations and returns an evaluator over them.
// rf may be nil for dispersion-only nodes, and dispersion may be empty for
// receiver-function-only nodes, but at least one data set must be present.
func NewEvaluator(dispersion []model.DispersionSet, rf *model.ReceiverFunction, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		dispersion:   dispersion,
		receiver:     rf,
		weights:      DefaultWeights(),
		dispersionFn: forward.Dispersion,
		receiverFn:   forward.SyntheticReceiverFunction,
	}
	for _, opt := range opts {
		opt(e)
	}

	hasData := false
	for _, set := range dispersion {
		if len(set.Points) == 0 {
			return nil, errors.New("empty dispersion set in observations")
		}
		for _, p := range set.Points {
			if p.PeriodS <= 0 {
				return nil, errors.New("dispersion observation with non-positive period")
			}
			if p.VelocityKmPerS <= 0 {
				return nil, errors.New("dispersion observation with non-positive velocity")
			}
		}
		hasData = true
	}
	if rf != nil {
		if err := rf.Validate(); err != nil {
			return nil, err
		}
		hasData = true
	}
	if !hasData {
		return nil, errors.New("no observations: need at least one dispersion set or a receiver function")
	}
	if e.weights.Dispersion < 0 || e.weights.Receiver < 0 || e.weights.Dispersion+e.weights.Receiver <= 0 {
		return nil, errors.New("misfit weights must be non-negative with a positive sum")
	}
	return e, nil
}

// Evaluate scores one candidate model. It never returns an error: forward
// failures yield a sentinel candidate the optimizer ranks last.
func (e *Evaluator) Evaluate(m model.Model) model.Candidate {
	cand := model.Candidate{Model: m.Clone()}

	var dispSum float64
	var dispCount int
	for _, set := range e.dispersion {
		synth, err := e.dispersionFn(m, set)
		if err != nil {
			return e.sentinel(m)
		}
		for i, p := range set.Points {
			r := (synth[i] - p.VelocityKmPerS) / sigmaOr(p.Sigma, defaultDispersionSigma)
			dispSum += r * r
			dispCount++
		}
	}
	if dispCount > 0 {
		cand.DispersionMisfit = math.Sqrt(dispSum / float64(dispCount))
		if !isFinite(cand.DispersionMisfit) {
			return e.sentinel(m)
		}
	}

	if e.receiver != nil {
		synth, err := e.receiverFn(m, *e.receiver)
		if err != nil {
			return e.sentinel(m)
		}
		sigma := sigmaOr(e.receiver.Sigma, defaultReceiverSigma)
		var sum float64
		for i, obs := range e.receiver.Amplitudes {
			r := (synth[i] - obs) / sigma
			sum += r * r
		}
		cand.ReceiverMisfit = math.Sqrt(sum / float64(len(e.receiver.Amplitudes)))
		if !isFinite(cand.ReceiverMisfit) {
			return e.sentinel(m)
		}
	}

	wd, wr := e.weights.Dispersion, e.weights.Receiver
	switch {
	case dispCount == 0:
		cand.Misfit = cand.ReceiverMisfit
	case e.receiver == nil:
		cand.Misfit = cand.DispersionMisfit
	default:
		cand.Misfit = (wd*cand.DispersionMisfit + wr*cand.ReceiverMisfit) / (wd + wr)
	}
	return cand
}

func (e *Evaluator) sentinel(m model.Model) model.Candidate {
	return model.Candidate{
		Model:            m.Clone(),
		Misfit:           SentinelMisfit,
		DispersionMisfit: SentinelMisfit,
		ReceiverMisfit:   SentinelMisfit,
		Sentinel:         true,
	}
}

// Fallback uncertainties for observations that carry none.
const (
	defaultDispersionSigma = 0.05 // km/s
	defaultReceiverSigma   = 0.02 // unit amplitude
)

func sigmaOr(sigma, fallback float64) float64 {
	if sigma > 0 {
		return sigma
	}
	return fallback
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
