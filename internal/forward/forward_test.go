package forward

import (
	"errors"
	"math"
	"testing"

	"jointinv/internal/model"
)

func halfSpace(vs float64) model.Model {
	return model.Model{Layers: []model.Layer{{VsKmPerS: vs}}}
}

func twoLayer() model.Model {
	return model.Model{Layers: []model.Layer{
		{ThicknessKm: 20, VsKmPerS: 3.0},
		{VsKmPerS: 4.5},
	}}
}

// rayleighFunction is the classical half-space secular function
// (2 - c^2/b^2)^2 - 4*sqrt(1-c^2/a^2)*sqrt(1-c^2/b^2), used as an
// independent reference for the propagator-based solver.
func rayleighFunction(c, alpha, beta float64) float64 {
	x := 2 - c*c/(beta*beta)
	return x*x - 4*math.Sqrt(1-c*c/(alpha*alpha))*math.Sqrt(1-c*c/(beta*beta))
}

func TestRayleighHalfSpaceMatchesClassicalRoot(t *testing.T) {
	m := halfSpace(3.0)
	alpha := m.Vp(0)

	lo, hi := 0.7*3.0, 0.999*3.0
	flo := rayleighFunction(lo, alpha, 3.0)
	if fhi := rayleighFunction(hi, alpha, 3.0); flo*fhi >= 0 {
		t.Fatalf("bracket must straddle the classical root: f(lo)=%g f(hi)=%g", flo, fhi)
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		fm := rayleighFunction(mid, alpha, 3.0)
		if (fm < 0) == (flo < 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	want := 0.5 * (lo + hi)
	if ratio := want / 3.0; ratio < 0.90 || ratio > 0.95 {
		t.Fatalf("classical root %.6f (c/beta=%.5f) outside the known half-space range", want, ratio)
	}

	set := model.DispersionSet{
		Wave: model.WaveRayleigh,
		Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{
			{PeriodS: 5}, {PeriodS: 10}, {PeriodS: 40},
		},
	}
	got, err := Dispersion(m, set)
	if err != nil {
		t.Fatalf("Dispersion: %v", err)
	}
	for i, c := range got {
		if math.Abs(c-want) > 1e-3*want {
			t.Errorf("period %g: phase velocity %.6f, classical root %.6f", set.Points[i].PeriodS, c, want)
		}
	}
}

func TestDispersionDeterministic(t *testing.T) {
	m := twoLayer()
	set := model.DispersionSet{
		Wave:   model.WaveRayleigh,
		Kind:   model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 5}, {PeriodS: 10}, {PeriodS: 20}, {PeriodS: 40}},
	}
	a, err := Dispersion(m, set)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	b, err := Dispersion(m, set)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("period %g: %v != %v", set.Points[i].PeriodS, a[i], b[i])
		}
	}
}

func TestDispersionTwoLayerIsNormallyDispersive(t *testing.T) {
	m := twoLayer()
	set := model.DispersionSet{
		Wave:   model.WaveRayleigh,
		Kind:   model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 5}, {PeriodS: 40}},
	}
	got, err := Dispersion(m, set)
	if err != nil {
		t.Fatalf("Dispersion: %v", err)
	}
	if got[1] <= got[0] {
		t.Fatalf("expected long-period velocity above short-period: c(5)=%.4f c(40)=%.4f", got[0], got[1])
	}
	for i, c := range got {
		if c <= 0.7*3.0 || c >= 4.5 {
			t.Errorf("period %g: velocity %.4f outside physical range", set.Points[i].PeriodS, c)
		}
	}
}

func TestDispersionRejectsInvalidModel(t *testing.T) {
	bad := model.Model{Layers: []model.Layer{{ThicknessKm: 10, VsKmPerS: -1}, {VsKmPerS: 4}}}
	set := model.DispersionSet{Wave: model.WaveRayleigh, Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 10}}}
	_, err := Dispersion(bad, set)
	if err == nil {
		t.Fatal("expected error for non-positive shear velocity")
	}
	if !IsModelError(err) {
		t.Fatalf("expected ModelError, got %T: %v", err, err)
	}
}

func TestLoveHalfSpaceHasNoRoot(t *testing.T) {
	set := model.DispersionSet{Wave: model.WaveLove, Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 10}}}
	_, err := Dispersion(halfSpace(3.5), set)
	if !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
	if !IsModelError(err) {
		t.Fatalf("expected ModelError wrapping, got %T", err)
	}
}

func TestLoveTwoLayerHasRoot(t *testing.T) {
	set := model.DispersionSet{Wave: model.WaveLove, Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 10}, {PeriodS: 30}}}
	got, err := Dispersion(twoLayer(), set)
	if err != nil {
		t.Fatalf("Dispersion: %v", err)
	}
	for i, c := range got {
		if c <= 3.0 || c >= 4.5 {
			t.Errorf("period %g: Love velocity %.4f outside (3.0, 4.5)", set.Points[i].PeriodS, c)
		}
	}
}

func TestGroupVelocityBelowPhase(t *testing.T) {
	m := twoLayer()
	phase := model.DispersionSet{Wave: model.WaveRayleigh, Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{{PeriodS: 20}}}
	group := model.DispersionSet{Wave: model.WaveRayleigh, Kind: model.VelocityGroup,
		Points: []model.DispersionPoint{{PeriodS: 20}}}
	cp, err := Dispersion(m, phase)
	if err != nil {
		t.Fatalf("phase: %v", err)
	}
	cg, err := Dispersion(m, group)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if cg[0] <= 0 || math.IsNaN(cg[0]) {
		t.Fatalf("group velocity %v not positive finite", cg[0])
	}
	// A normally dispersive branch carries energy slower than phase.
	if cg[0] >= cp[0] {
		t.Errorf("group %.4f not below phase %.4f", cg[0], cp[0])
	}
}

func testRF(n int) model.ReceiverFunction {
	return model.ReceiverFunction{
		DtS:            0.1,
		ShiftS:         5,
		RayParamSPerKm: 0.05,
		GaussWidth:     2.5,
		Amplitudes:     make([]float64, n),
	}
}

func TestReceiverFunctionHalfSpacePulseAtShift(t *testing.T) {
	obs := testRF(128)
	got, err := SyntheticReceiverFunction(halfSpace(3.5), obs)
	if err != nil {
		t.Fatalf("SyntheticReceiverFunction: %v", err)
	}
	if len(got) != 128 {
		t.Fatalf("length %d, want 128", len(got))
	}
	peak := 0
	for i, v := range got {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("sample %d not finite: %v", i, v)
		}
		if math.Abs(v) > math.Abs(got[peak]) {
			peak = i
		}
	}
	want := int(math.Round(obs.ShiftS / obs.DtS))
	if peak != want {
		t.Errorf("pulse at sample %d, want %d", peak, want)
	}
	if got[peak] <= 0 {
		t.Errorf("direct arrival amplitude %v not positive", got[peak])
	}
}

func TestReceiverFunctionDeterministic(t *testing.T) {
	m := twoLayer()
	obs := testRF(256)
	a, err := SyntheticReceiverFunction(m, obs)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	b, err := SyntheticReceiverFunction(m, obs)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestReceiverFunctionRejectsPostCriticalRayParameter(t *testing.T) {
	obs := testRF(64)
	obs.RayParamSPerKm = 0.5 // horizontal velocity 2 km/s, below half-space Vp
	_, err := SyntheticReceiverFunction(halfSpace(3.5), obs)
	if err == nil {
		t.Fatal("expected error for post-critical ray parameter")
	}
	if !IsModelError(err) {
		t.Fatalf("expected ModelError, got %T: %v", err, err)
	}
}
