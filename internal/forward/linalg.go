package forward

import (
	"math"
	"math/cmplx"
)

type mat4 [4][4]float64

func mulMat4(a, b mat4) mat4 {
	var out mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for k := 0; k < 4; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

func maxAbsMat4(a mat4) float64 {
	m := 0.0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := math.Abs(a[i][j]); v > m {
				m = v
			}
		}
	}
	return m
}

var identity4 = mat4{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// expm4 computes the matrix exponential of a 4x4 real matrix by scaling and
// squaring with a truncated Taylor series. The layer system matrices handled
// here have norms up to a few hundred, which keeps the squaring depth small.
func expm4(a mat4) mat4 {
	norm := 0.0
	for i := 0; i < 4; i++ {
		row := 0.0
		for j := 0; j < 4; j++ {
			row += math.Abs(a[i][j])
		}
		if row > norm {
			norm = row
		}
	}

	squarings := 0
	for norm > 0.5 && squarings < 60 {
		norm /= 2
		squarings++
	}
	scale := math.Ldexp(1, -squarings)
	var scaled mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			scaled[i][j] = a[i][j] * scale
		}
	}

	sum := identity4
	term := identity4
	for k := 1; k <= 24; k++ {
		term = mulMat4(term, scaled)
		inv := 1.0 / float64(k)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				term[i][j] *= inv
				sum[i][j] += term[i][j]
			}
		}
		if maxAbsMat4(term) < 1e-16*maxAbsMat4(sum) {
			break
		}
	}

	for s := 0; s < squarings; s++ {
		sum = mulMat4(sum, sum)
	}
	return sum
}

// minorPairs enumerates the row pairs (i<j) indexing a 6-component minor
// vector of two 4-vectors, in the fixed order 12,13,14,23,24,34.
var minorPairs = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// compound4 forms the second compound matrix of p: the 6x6 matrix that
// propagates 2x2 minors the way p propagates vectors.
func compound4(p mat4) [6][6]float64 {
	var out [6][6]float64
	for r, ij := range minorPairs {
		i, j := ij[0], ij[1]
		for q, kl := range minorPairs {
			k, l := kl[0], kl[1]
			out[r][q] = p[i][k]*p[j][l] - p[i][l]*p[j][k]
		}
	}
	return out
}

func applyCompound(c [6][6]float64, v [6]float64) [6]float64 {
	var out [6]float64
	for i := 0; i < 6; i++ {
		s := 0.0
		for j := 0; j < 6; j++ {
			s += c[i][j] * v[j]
		}
		out[i] = s
	}
	return out
}

func normalizeMinor(v [6]float64) [6]float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	if m == 0 {
		return v
	}
	inv := 1.0 / m
	for i := range v {
		v[i] *= inv
	}
	return v
}

// solveC4 solves a 4x4 complex linear system in place by Gaussian elimination
// with partial pivoting. It reports failure when the system is singular to
// working precision.
func solveC4(a [4][4]complex128, b [4]complex128) ([4]complex128, bool) {
	scale := 0.0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := cmplx.Abs(a[i][j]); v > scale {
				scale = v
			}
		}
	}
	if scale == 0 {
		return [4]complex128{}, false
	}

	for col := 0; col < 4; col++ {
		pivot := col
		best := cmplx.Abs(a[col][col])
		for r := col + 1; r < 4; r++ {
			if v := cmplx.Abs(a[r][col]); v > best {
				best = v
				pivot = r
			}
		}
		if best < 1e-14*scale {
			return [4]complex128{}, false
		}
		if pivot != col {
			a[pivot], a[col] = a[col], a[pivot]
			b[pivot], b[col] = b[col], b[pivot]
		}
		inv := 1 / a[col][col]
		for r := col + 1; r < 4; r++ {
			f := a[r][col] * inv
			if f == 0 {
				continue
			}
			for c := col; c < 4; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [4]complex128
	for i := 3; i >= 0; i-- {
		s := b[i]
		for j := i + 1; j < 4; j++ {
			s -= a[i][j] * x[j]
		}
		x[i] = s / a[i][i]
	}
	return x, true
}
