package forward

import (
	"math"

	"jointinv/internal/model"
)

// Root-search controls. The scan resolution and bisection tolerance are fixed
// so that repeated evaluation of the same model is bit-for-bit reproducible.
const (
	rootScanSteps   = 180
	rootRelTol      = 1e-6
	rootMaxBisect   = 80
	groupPeriodStep = 0.005
)

// psvSystem builds the 4x4 first-order system matrix of the P-SV
// motion-stress vector (U, W, T, S) for a homogeneous layer at horizontal
// wavenumber k and angular frequency omega. All entries are real; evanescent
// and oscillatory regimes are both handled by the matrix exponential.
func psvSystem(k, omega, alpha, beta, rho float64) mat4 {
	mu := rho * beta * beta
	lamMu2 := rho * alpha * alpha // lambda + 2*mu
	lam := lamMu2 - 2*mu
	zeta := 4 * mu * (lam + mu) / lamMu2
	rw2 := rho * omega * omega

	return mat4{
		{0, -k, 1 / mu, 0},
		{k * lam / lamMu2, 0, 0, 1 / lamMu2},
		{zeta*k*k - rw2, 0, 0, -k * lam / lamMu2},
		{0, -rw2, k, 0},
	}
}

// psvEigenvectorP and psvEigenvectorSV are the displacement-stress
// eigenvectors of the homogeneous-medium system for vertical exponent nu.
// They hold for real (evanescent) and imaginary (propagating) nu alike.
func psvEigenvectorP(k, omega, mu, rho float64, nu complex128) [4]complex128 {
	kk := complex(k, 0)
	return [4]complex128{
		kk,
		nu,
		2 * complex(mu, 0) * kk * nu,
		complex(2*mu*k*k-rho*omega*omega, 0),
	}
}

func psvEigenvectorSV(k, omega, mu, rho float64, nu complex128) [4]complex128 {
	kk := complex(k, 0)
	return [4]complex128{
		nu,
		kk,
		complex(mu, 0) * (nu*nu + kk*kk),
		2 * complex(mu, 0) * kk * nu,
	}
}

// rayleighSecular evaluates the Rayleigh secular function for trial phase
// velocity c at angular frequency omega. The surface minor vector is
// propagated through the finite layers with compound matrices and paired with
// the half-space decaying-eigenvector minor; a mode exists where the result
// crosses zero. Only the sign carries meaning: the minor vector is rescaled
// per layer to avoid overflow.
func rayleighSecular(m model.Model, omega, c float64) float64 {
	k := omega / c

	mv := [6]float64{1, 0, 0, 0, 0, 0}
	for i := 0; i < len(m.Layers)-1; i++ {
		layer := m.Layers[i]
		a := psvSystem(k, omega, m.Vp(i), layer.VsKmPerS, m.Density(i))
		d := layer.ThicknessKm
		for r := 0; r < 4; r++ {
			for q := 0; q < 4; q++ {
				a[r][q] *= d
			}
		}
		mv = normalizeMinor(applyCompound(compound4(expm4(a)), mv))
	}

	last := len(m.Layers) - 1
	betaH := m.Layers[last].VsKmPerS
	alphaH := m.Vp(last)
	rhoH := m.Density(last)
	muH := rhoH * betaH * betaH

	ra := math.Sqrt(1 - c*c/(alphaH*alphaH))
	rb := math.Sqrt(1 - c*c/(betaH*betaH))
	vp := psvEigenvectorP(k, omega, muH, rhoH, complex(-k*ra, 0))
	vs := psvEigenvectorSV(k, omega, muH, rhoH, complex(-k*rb, 0))

	var n [6]float64
	for idx, ij := range minorPairs {
		i, j := ij[0], ij[1]
		n[idx] = real(vp[i])*real(vs[j]) - real(vp[j])*real(vs[i])
	}
	// Pairing of complementary minors with permutation signs:
	// det[f_a, f_b, v_p, v_s].
	return mv[0]*n[5] - mv[1]*n[4] + mv[2]*n[3] + mv[3]*n[2] - mv[4]*n[1] + mv[5]*n[0]
}

// loveSecular evaluates the SH secular function via the closed-form 2x2 layer
// propagator of the (V, T) motion-stress vector.
func loveSecular(m model.Model, omega, c float64) float64 {
	k := omega / c

	v, t := 1.0, 0.0
	for i := 0; i < len(m.Layers)-1; i++ {
		layer := m.Layers[i]
		beta := layer.VsKmPerS
		mu := m.Density(i) * beta * beta
		nu2 := k*k - omega*omega/(beta*beta)
		d := layer.ThicknessKm

		var ch, sd float64 // cosh(nu d), sinh(nu d)/nu and their oscillatory analogues
		switch {
		case nu2 > 1e-12:
			nu := math.Sqrt(nu2)
			ch = math.Cosh(nu * d)
			sd = math.Sinh(nu*d) / nu
		case nu2 < -1e-12:
			w := math.Sqrt(-nu2)
			ch = math.Cos(w * d)
			sd = math.Sin(w*d) / w
		default:
			ch = 1
			sd = d
		}

		v, t = ch*v+sd/mu*t, mu*nu2*sd*v+ch*t
		scale := math.Max(math.Abs(v), math.Abs(t))
		if scale > 0 {
			v /= scale
			t /= scale
		}
	}

	last := len(m.Layers) - 1
	betaH := m.Layers[last].VsKmPerS
	muH := m.Density(last) * betaH * betaH
	nuH2 := k*k - omega*omega/(betaH*betaH)
	if nuH2 <= 0 {
		return math.NaN()
	}
	return t + muH*math.Sqrt(nuH2)*v
}

type secularFunc func(m model.Model, omega, c float64) float64

// findRoot locates the lowest-velocity sign change of the secular function in
// [cmin, cmax] by a fixed-step scan followed by bisection to a fixed relative
// tolerance. Deterministic for identical inputs.
func findRoot(fn secularFunc, m model.Model, omega, cmin, cmax float64) (float64, error) {
	step := (cmax - cmin) / rootScanSteps
	prevC := cmin
	prevV := fn(m, omega, prevC)
	if prevV == 0 {
		return prevC, nil
	}

	for i := 1; i <= rootScanSteps; i++ {
		c := cmin + float64(i)*step
		v := fn(m, omega, c)
		if math.IsNaN(v) {
			prevC, prevV = c, v
			continue
		}
		if v == 0 {
			return c, nil
		}
		if !math.IsNaN(prevV) && (prevV < 0) != (v < 0) {
			lo, hi := prevC, c
			flo := prevV
			for it := 0; it < rootMaxBisect && (hi-lo) > rootRelTol*hi; it++ {
				mid := 0.5 * (lo + hi)
				fm := fn(m, omega, mid)
				if fm == 0 {
					return mid, nil
				}
				if (fm < 0) == (flo < 0) {
					lo, flo = mid, fm
				} else {
					hi = mid
				}
			}
			return 0.5 * (lo + hi), nil
		}
		prevC, prevV = c, v
	}
	return 0, &ModelError{Op: "dispersion root search", Err: ErrNoRoot}
}

func searchBracket(m model.Model) (cmin, cmax float64, err error) {
	minVs := math.Inf(1)
	for _, layer := range m.Layers {
		if layer.VsKmPerS < minVs {
			minVs = layer.VsKmPerS
		}
	}
	betaH := m.Layers[len(m.Layers)-1].VsKmPerS
	cmin = 0.7 * minVs
	cmax = 0.999 * betaH
	if cmax <= cmin {
		return 0, 0, modelErrorf("dispersion bracket", "half-space velocity %g leaves no search range above %g", betaH, cmin)
	}
	return cmin, cmax, nil
}

func phaseVelocity(m model.Model, wave model.WaveType, period float64) (float64, error) {
	if period <= 0 {
		return 0, modelErrorf("dispersion", "period must be > 0, got %g", period)
	}
	cmin, cmax, err := searchBracket(m)
	if err != nil {
		return 0, err
	}
	omega := 2 * math.Pi / period
	switch wave {
	case model.WaveRayleigh, "":
		return findRoot(rayleighSecular, m, omega, cmin, cmax)
	case model.WaveLove:
		return findRoot(loveSecular, m, omega, cmin, cmax)
	default:
		return 0, modelErrorf("dispersion", "unsupported wave type %q", wave)
	}
}

func groupVelocity(m model.Model, wave model.WaveType, period float64) (float64, error) {
	c0, err := phaseVelocity(m, wave, period)
	if err != nil {
		return 0, err
	}
	dT := groupPeriodStep * period
	cPlus, err := phaseVelocity(m, wave, period+dT)
	if err != nil {
		return 0, err
	}
	cMinus, err := phaseVelocity(m, wave, period-dT)
	if err != nil {
		return 0, err
	}
	dcdT := (cPlus - cMinus) / (2 * dT)
	denom := c0 + period*dcdT
	if denom <= 0 {
		return 0, modelErrorf("group velocity", "degenerate dispersion slope at period %g", period)
	}
	return c0 * c0 / denom, nil
}

// Dispersion computes the theoretical velocity, one value per observation
// point, for the wave type and velocity kind of the set. It fails with a
// ModelError when the model is invalid or any period has no fundamental-mode
// root; the caller treats that as a maximal misfit, not a crash.
func Dispersion(m model.Model, set model.DispersionSet) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, &ModelError{Op: "dispersion", Err: err}
	}
	if len(set.Points) == 0 {
		return nil, modelErrorf("dispersion", "observation set is empty")
	}

	out := make([]float64, len(set.Points))
	for i, p := range set.Points {
		var (
			v   float64
			err error
		)
		switch set.Kind {
		case model.VelocityGroup:
			v, err = groupVelocity(m, set.Wave, p.PeriodS)
		case model.VelocityPhase, "":
			v, err = phaseVelocity(m, set.Wave, p.PeriodS)
		default:
			return nil, modelErrorf("dispersion", "unsupported velocity kind %q", set.Kind)
		}
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
