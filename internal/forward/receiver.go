package forward

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"jointinv/internal/model"
)

const (
	// Fraction of the peak vertical spectral power used as the deconvolution
	// water level.
	waterLevel = 1e-3
	// Spectral bins where the Gaussian filter falls below this are zeroed
	// rather than synthesized.
	gaussCutoff = 1e-8
)

// surfaceResponse solves the plane-wave boundary problem for an up-going
// teleseismic P wave of unit amplitude incident from the half-space at ray
// parameter p (s/km) and angular frequency omega. It returns the complex
// radial and vertical (positive up) surface displacements.
func surfaceResponse(m model.Model, omega, p float64) (ur, uz complex128, ok bool) {
	c := 1 / p
	k := omega * p

	// Free-surface solution basis propagated to the top of the half-space.
	f1 := [4]complex128{1, 0, 0, 0}
	f2 := [4]complex128{0, 1, 0, 0}
	for i := 0; i < len(m.Layers)-1; i++ {
		layer := m.Layers[i]
		a := psvSystem(k, omega, m.Vp(i), layer.VsKmPerS, m.Density(i))
		d := layer.ThicknessKm
		for r := 0; r < 4; r++ {
			for q := 0; q < 4; q++ {
				a[r][q] *= d
			}
		}
		prop := expm4(a)
		var g1, g2 [4]complex128
		for r := 0; r < 4; r++ {
			for q := 0; q < 4; q++ {
				pr := complex(prop[r][q], 0)
				g1[r] += pr * f1[q]
				g2[r] += pr * f2[q]
			}
		}
		f1, f2 = g1, g2
	}

	last := len(m.Layers) - 1
	alphaH := m.Vp(last)
	betaH := m.Layers[last].VsKmPerS
	rhoH := m.Density(last)
	muH := rhoH * betaH * betaH

	gammaA := k * math.Sqrt(c*c/(alphaH*alphaH)-1)
	gammaB := k * math.Sqrt(c*c/(betaH*betaH)-1)
	vUp := psvEigenvectorP(k, omega, muH, rhoH, complex(0, -gammaA))
	vPdn := psvEigenvectorP(k, omega, muH, rhoH, complex(0, gammaA))
	vSdn := psvEigenvectorSV(k, omega, muH, rhoH, complex(0, gammaB))

	// a*f1 + b*f2 = vUp + cP*vPdn + cS*vSdn at the half-space interface;
	// (a, b) are then the surface (U, W) amplitudes.
	var sys [4][4]complex128
	for r := 0; r < 4; r++ {
		sys[r][0] = f1[r]
		sys[r][1] = f2[r]
		sys[r][2] = -vPdn[r]
		sys[r][3] = -vSdn[r]
	}
	sol, ok := solveC4(sys, vUp)
	if !ok {
		return 0, 0, false
	}
	// u_x carries the i factor of the motion-stress convention; u_z is
	// positive down, so flip for positive-up output.
	return complex(0, 1) * sol[0], -sol[1], true
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SyntheticReceiverFunction computes the radial receiver function of the
// model for the acquisition geometry of obs: same sample interval, time
// shift, ray parameter and Gaussian width, with exactly len(obs.Amplitudes)
// samples. The is the frequency-domain deconvolution of the vertical from
// the radial plane-wave response, water-level regularized, low-passed by the
// Gaussian filter and normalized so the filter has unit time-domain peak.
func SyntheticReceiverFunction(m model.Model, obs model.ReceiverFunction) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, &ModelError{Op: "receiver function", Err: err}
	}
	if err := obs.Validate(); err != nil {
		return nil, &ModelError{Op: "receiver function", Err: err}
	}
	alphaH := m.Vp(len(m.Layers) - 1)
	if 1/obs.RayParamSPerKm <= alphaH {
		return nil, modelErrorf("receiver function",
			"ray parameter %g s/km is post-critical for half-space Vp %g km/s", obs.RayParamSPerKm, alphaH)
	}

	n := len(obs.Amplitudes)
	nfft := nextPow2(2 * n)
	dt := obs.DtS
	domega := 2 * math.Pi / (float64(nfft) * dt)
	a := obs.GaussWidth

	// Raw spectral ratio first; the water level needs the full vertical
	// spectrum before any bin can be regularized.
	half := nfft / 2
	urs := make([]complex128, half+1)
	uzs := make([]complex128, half+1)
	gs := make([]float64, half+1)
	maxUz2 := 0.0
	for j := 0; j <= half; j++ {
		omega := float64(j) * domega
		g := math.Exp(-omega * omega / (4 * a * a))
		gs[j] = g
		if g < gaussCutoff {
			continue
		}
		if j == 0 {
			// DC limit taken just off zero frequency.
			omega = 1e-6 * domega
		}
		ur, uz, ok := surfaceResponse(m, omega, obs.RayParamSPerKm)
		if !ok {
			return nil, modelErrorf("receiver function", "singular boundary system at frequency %g Hz", omega/(2*math.Pi))
		}
		urs[j] = ur
		uzs[j] = uz
		if p2 := real(uz)*real(uz) + imag(uz)*imag(uz); p2 > maxUz2 {
			maxUz2 = p2
		}
	}
	if maxUz2 == 0 {
		return nil, modelErrorf("receiver function", "vanishing vertical response")
	}

	spec := make([]complex128, nfft)
	floor := waterLevel * maxUz2
	for j := 0; j <= half; j++ {
		if gs[j] < gaussCutoff {
			continue
		}
		omega := float64(j) * domega
		den := real(uzs[j])*real(uzs[j]) + imag(uzs[j])*imag(uzs[j])
		if den < floor {
			den = floor
		}
		ratio := urs[j] * cmplx.Conj(uzs[j]) / complex(den, 0)
		shift := cmplx.Exp(complex(0, -omega*obs.ShiftS))
		spec[j] = ratio * complex(gs[j], 0) * shift
	}
	for j := 1; j < half; j++ {
		spec[nfft-j] = cmplx.Conj(spec[j])
	}
	spec[half] = complex(real(spec[half]), 0)

	// Unit time-domain filter peak.
	gnorm := 0.0
	for j := 0; j < nfft; j++ {
		jj := j
		if jj > half {
			jj = nfft - jj
		}
		gnorm += gs[jj]
	}
	gnorm /= float64(nfft)

	fft := fourier.NewCmplxFFT(nfft)
	seq := fft.Sequence(nil, spec)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = real(seq[i]) / (float64(nfft) * gnorm)
	}
	return out, nil
}
