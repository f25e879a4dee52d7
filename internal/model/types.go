package model

import (
	"errors"
	"fmt"
	"math"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// DefaultVpVs is the compressional-to-shear velocity ratio used when a run
// does not configure one. It corresponds to a Poisson ratio of ~0.26.
const DefaultVpVs = 1.75

// Layer is one homogeneous layer of a 1-D earth model. The bottom layer of a
// model is the half-space; its thickness is ignored by the forward solvers
// and is conventionally zero.
type Layer struct {
	ThicknessKm float64 `json:"thickness_km"`
	VsKmPerS    float64 `json:"vs_km_per_s"`
}

// Model is an ordered stack of layers, top to bottom, over a half-space.
// Compressional velocity and density are derived from shear velocity via
// empirical scaling, so the free parameters are thickness and Vs only.
type Model struct {
	Layers []Layer `json:"layers"`
	VpVs   float64 `json:"vp_vs,omitempty"`
}

func (m Model) vpvs() float64 {
	if m.VpVs > 0 {
		return m.VpVs
	}
	return DefaultVpVs
}

// Vp returns the compressional velocity of layer i in km/s.
func (m Model) Vp(i int) float64 {
	return m.Layers[i].VsKmPerS * m.vpvs()
}

// Density returns the density of layer i in g/cm3 using the Brocher (2005)
// polynomial in Vp, clamped to a physically plausible range.
func (m Model) Density(i int) float64 {
	vp := m.Vp(i)
	rho := vp * (1.6612 + vp*(-0.4721+vp*(0.0671+vp*(-0.0043+vp*0.000106))))
	if rho < 1.0 {
		return 1.0
	}
	if rho > 3.6 {
		return 3.6
	}
	return rho
}

// Clone returns a deep copy. Candidates produced by the optimizer never share
// layer slices with their parents.
func (m Model) Clone() Model {
	out := Model{Layers: make([]Layer, len(m.Layers)), VpVs: m.VpVs}
	copy(out.Layers, m.Layers)
	return out
}

// InterfaceDepths returns the depth in km to the bottom of each finite layer.
// The returned slice has len(m.Layers)-1 entries and is strictly increasing
// for a valid model with positive thicknesses.
func (m Model) InterfaceDepths() []float64 {
	if len(m.Layers) == 0 {
		return nil
	}
	depths := make([]float64, 0, len(m.Layers)-1)
	total := 0.0
	for i := 0; i < len(m.Layers)-1; i++ {
		total += m.Layers[i].ThicknessKm
		depths = append(depths, total)
	}
	return depths
}

// Validate reports whether the model is usable by the forward solvers.
func (m Model) Validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("model has no layers")
	}
	for i, layer := range m.Layers {
		if layer.VsKmPerS <= 0 || math.IsNaN(layer.VsKmPerS) {
			return fmt.Errorf("layer %d: shear velocity must be > 0, got %g", i, layer.VsKmPerS)
		}
		if i < len(m.Layers)-1 {
			if layer.ThicknessKm <= 0 || math.IsNaN(layer.ThicknessKm) {
				return fmt.Errorf("layer %d: thickness must be > 0, got %g", i, layer.ThicknessKm)
			}
		}
	}
	return nil
}

// WaveType selects the surface-wave polarization of a dispersion data set.
type WaveType string

const (
	WaveRayleigh WaveType = "rayleigh"
	WaveLove     WaveType = "love"
)

// VelocityKind selects phase or group velocity.
type VelocityKind string

const (
	VelocityPhase VelocityKind = "phase"
	VelocityGroup VelocityKind = "group"
)

// DispersionPoint is one observed period sample of a dispersion curve.
type DispersionPoint struct {
	PeriodS        float64 `json:"period_s"`
	VelocityKmPerS float64 `json:"velocity_km_per_s"`
	Sigma          float64 `json:"sigma,omitempty"`
}

// DispersionSet is the dispersion observation at one spatial node. Points are
// ordered by period and fixed for the lifetime of a run.
type DispersionSet struct {
	Wave   WaveType          `json:"wave"`
	Kind   VelocityKind      `json:"kind"`
	Points []DispersionPoint `json:"points"`
}

// Periods returns the observation periods in order.
func (d DispersionSet) Periods() []float64 {
	periods := make([]float64, len(d.Points))
	for i, p := range d.Points {
		periods[i] = p.PeriodS
	}
	return periods
}

// ReceiverFunction is the receiver-function observation at one node: a
// time-sampled radial waveform with its acquisition parameters. DtS is the
// sample interval, ShiftS the pre-onset delay of the direct P arrival, and
// GaussWidth the Gaussian low-pass parameter a in exp(-omega^2/(4a^2)).
type ReceiverFunction struct {
	DtS            float64   `json:"dt_s"`
	ShiftS         float64   `json:"shift_s"`
	RayParamSPerKm float64   `json:"ray_param_s_per_km"`
	GaussWidth     float64   `json:"gauss_width"`
	Sigma          float64   `json:"sigma,omitempty"`
	Amplitudes     []float64 `json:"amplitudes"`
}

// Validate checks the acquisition parameters and waveform length.
func (r ReceiverFunction) Validate() error {
	if r.DtS <= 0 {
		return fmt.Errorf("receiver function sample interval must be > 0, got %g", r.DtS)
	}
	if r.ShiftS < 0 {
		return fmt.Errorf("receiver function time shift must be >= 0, got %g", r.ShiftS)
	}
	if r.RayParamSPerKm <= 0 {
		return fmt.Errorf("receiver function ray parameter must be > 0, got %g", r.RayParamSPerKm)
	}
	if r.GaussWidth <= 0 {
		return fmt.Errorf("receiver function Gaussian width must be > 0, got %g", r.GaussWidth)
	}
	if len(r.Amplitudes) == 0 {
		return errors.New("receiver function has no samples")
	}
	return nil
}

// Candidate is one evaluated model with its misfit breakdown. Index is the
// insertion order within a run's ensemble and serves as the deterministic
// tie-break when misfits are equal. Sentinel marks candidates whose forward
// computation failed and were assigned the maximal misfit.
type Candidate struct {
	Model            Model   `json:"model"`
	Misfit           float64 `json:"misfit"`
	DispersionMisfit float64 `json:"dispersion_misfit"`
	ReceiverMisfit   float64 `json:"receiver_misfit"`
	Sentinel         bool    `json:"sentinel,omitempty"`
	Index            int     `json:"index"`
}

// Termination reasons reported in run diagnostics.
const (
	TerminationBudget    = "budget"
	TerminationConverged = "converged"
)

// RunDiagnostics summarizes how an inversion run ended.
type RunDiagnostics struct {
	Rounds      int       `json:"rounds"`
	Evaluations int       `json:"evaluations"`
	BestMisfit  float64   `json:"best_misfit"`
	Termination string    `json:"termination"`
	BestByRound []float64 `json:"best_by_round"`
}

// BestModelRecord is the persisted point estimate of a run.
type BestModelRecord struct {
	VersionedRecord
	RunID            string  `json:"run_id"`
	Model            Model   `json:"model"`
	Misfit           float64 `json:"misfit"`
	DispersionMisfit float64 `json:"dispersion_misfit"`
	ReceiverMisfit   float64 `json:"receiver_misfit"`
}

// CandidateRecord is one persisted entry of a run's ranked ensemble head.
type CandidateRecord struct {
	VersionedRecord
	Rank             int     `json:"rank"`
	Misfit           float64 `json:"misfit"`
	DispersionMisfit float64 `json:"dispersion_misfit"`
	ReceiverMisfit   float64 `json:"receiver_misfit"`
	Model            Model   `json:"model"`
}

// RunDiagnosticsRecord is the persisted form of RunDiagnostics.
type RunDiagnosticsRecord struct {
	VersionedRecord
	RunID       string    `json:"run_id"`
	Rounds      int       `json:"rounds"`
	Evaluations int       `json:"evaluations"`
	BestMisfit  float64   `json:"best_misfit"`
	Termination string    `json:"termination"`
	BestByRound []float64 `json:"best_by_round"`
}
