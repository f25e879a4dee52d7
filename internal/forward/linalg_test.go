package forward

import (
	"math"
	"math/rand"
	"testing"
)

func TestExpm4Diagonal(t *testing.T) {
	a := mat4{{0.5, 0, 0, 0}, {0, -1.25, 0, 0}, {0, 0, 3, 0}, {0, 0, 0, -7}}
	got := expm4(a)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = math.Exp(a[i][i])
			}
			if math.Abs(got[i][j]-want) > 1e-12*math.Max(1, math.Abs(want)) {
				t.Errorf("exp[%d][%d] = %v, want %v", i, j, got[i][j], want)
			}
		}
	}
}

func TestExpm4Nilpotent(t *testing.T) {
	// exp of a strictly upper-triangular matrix terminates exactly.
	var a mat4
	a[0][1] = 2
	a[1][2] = 3
	a[2][3] = 4
	got := expm4(a)
	want := mat4{{1, 2, 3, 4}, {0, 1, 3, 6}, {0, 0, 1, 4}, {0, 0, 0, 1}}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(got[i][j]-want[i][j]) > 1e-12 {
				t.Errorf("exp[%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestCompound4PreservesMinors(t *testing.T) {
	// The second compound must map the minor vector of (u, v) to the minor
	// vector of (Pu, Pv).
	rng := rand.New(rand.NewSource(7))
	var p mat4
	var u, v [4]float64
	for i := 0; i < 4; i++ {
		u[i] = rng.NormFloat64()
		v[i] = rng.NormFloat64()
		for j := 0; j < 4; j++ {
			p[i][j] = rng.NormFloat64()
		}
	}

	minors := func(a, b [4]float64) [6]float64 {
		var out [6]float64
		for idx, ij := range minorPairs {
			i, j := ij[0], ij[1]
			out[idx] = a[i]*b[j] - a[j]*b[i]
		}
		return out
	}
	apply := func(a [4]float64) [4]float64 {
		var out [4]float64
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				out[i] += p[i][j] * a[j]
			}
		}
		return out
	}

	got := applyCompound(compound4(p), minors(u, v))
	want := minors(apply(u), apply(v))
	for i := 0; i < 6; i++ {
		if math.Abs(got[i]-want[i]) > 1e-10*math.Max(1, math.Abs(want[i])) {
			t.Errorf("minor %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSolveC4RoundTrip(t *testing.T) {
	a := [4][4]complex128{
		{2 + 1i, 0.5, 0, 1},
		{1, 3, -1i, 0.25},
		{0, 2i, 4, 1},
		{1, 0, 1, 5 - 2i},
	}
	b := [4]complex128{1, 2i, -3, 0.5 + 0.5i}
	x, ok := solveC4(a, b)
	if !ok {
		t.Fatal("solver reported singular system")
	}
	for i := 0; i < 4; i++ {
		var sum complex128
		for j := 0; j < 4; j++ {
			sum += a[i][j] * x[j]
		}
		if d := sum - b[i]; math.Hypot(real(d), imag(d)) > 1e-12 {
			t.Errorf("row %d residual %v", i, d)
		}
	}
}

func TestSolveC4Singular(t *testing.T) {
	var a [4][4]complex128
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = complex(float64(i+1), 0) // rank 1
		}
	}
	if _, ok := solveC4(a, [4]complex128{1, 1, 1, 1}); ok {
		t.Fatal("expected singular system to be reported")
	}
}
