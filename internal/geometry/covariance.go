package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cov3 is a 3×3 positional covariance matrix stored row-major.
type Cov3 [9]float64

// DiagCov3 returns a covariance with the given variances on the diagonal.
func DiagCov3(xx, yy, zz float64) Cov3 {
	return Cov3{
		xx, 0, 0,
		0, yy, 0,
		0, 0, zz,
	}
}

// PositionalBlock extracts the upper-left 3×3 block of a row-major 6×6
// pose covariance (x, y, z, roll, pitch, yaw).
func PositionalBlock(cov6 [36]float64) Cov3 {
	var c Cov3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i*3+j] = cov6[i*6+j]
		}
	}
	return c
}

// Embed6 writes the covariance into the positional block of a 6×6 pose
// covariance, leaving the rotational block zero.
func (c Cov3) Embed6() [36]float64 {
	var out [36]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*6+j] = c[i*3+j]
		}
	}
	return out
}

// At returns element (i, j).
func (c Cov3) At(i, j int) float64 { return c[i*3+j] }

// IsZero reports whether every element is exactly zero, which is how sensors
// signal that they supplied no uncertainty estimate.
func (c Cov3) IsZero() bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

// IsFinite reports whether no element is NaN or ±Inf.
func (c Cov3) IsFinite() bool {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Symmetrize returns (C + Cᵀ) / 2.
func (c Cov3) Symmetrize() Cov3 {
	var out Cov3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = 0.5 * (c[i*3+j] + c[j*3+i])
		}
	}
	return out
}

// Add returns C + O.
func (c Cov3) Add(o Cov3) Cov3 {
	var out Cov3
	for i := range c {
		out[i] = c[i] + o[i]
	}
	return out
}

// Dense returns a copy of the covariance as a gonum dense matrix.
func (c Cov3) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, c[:])
	return mat.NewDense(3, 3, data)
}

// Sym returns the symmetrized covariance as a gonum symmetric matrix.
func (c Cov3) Sym() *mat.SymDense {
	s := c.Symmetrize()
	data := make([]float64, 9)
	copy(data, s[:])
	return mat.NewSymDense(3, data)
}

// Cov3FromMatrix copies a 3×3 matrix and re-symmetrizes it to remove
// floating-point drift picked up during composition.
func Cov3FromMatrix(m mat.Matrix) Cov3 {
	var c Cov3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i*3+j] = m.At(i, j)
		}
	}
	return c.Symmetrize()
}

// Rotate returns R·C·Rᵀ, re-symmetrized.
func (c Cov3) Rotate(r mat.Matrix) Cov3 {
	var rc, rcrt mat.Dense
	rc.Mul(r, c.Dense())
	rcrt.Mul(&rc, r.T())
	return Cov3FromMatrix(&rcrt)
}

// Block2 returns the row-major 2×2 xy block.
func (c Cov3) Block2() [4]float64 {
	return [4]float64{c[0], c[1], c[3], c[4]}
}

// Eigenvalues returns the eigenvalues of the symmetrized covariance in
// ascending order. ok is false if the decomposition failed.
func (c Cov3) Eigenvalues() (vals [3]float64, ok bool) {
	var es mat.EigenSym
	if !es.Factorize(c.Sym(), false) {
		return vals, false
	}
	v := es.Values(nil)
	copy(vals[:], v)
	return vals, true
}

// IsPSD reports whether the covariance is symmetric and positive
// semidefinite within tol.
func (c Cov3) IsPSD(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if math.Abs(c[i*3+j]-c[j*3+i]) > tol {
				return false
			}
		}
	}
	vals, ok := c.Eigenvalues()
	if !ok {
		return false
	}
	return vals[0] >= -tol
}

// RotateCov6 rotates a row-major 6×6 pose covariance by R applied to both
// the positional and the rotational block: B·C·Bᵀ with B = diag(R, R).
func RotateCov6(cov6 [36]float64, r mat.Matrix) [36]float64 {
	b := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b.Set(i, j, r.At(i, j))
			b.Set(i+3, j+3, r.At(i, j))
		}
	}
	c := mat.NewDense(6, 6, append([]float64(nil), cov6[:]...))
	var bc, bcbt mat.Dense
	bc.Mul(b, c)
	bcbt.Mul(&bc, b.T())

	var out [36]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i*6+j] = 0.5 * (bcbt.At(i, j) + bcbt.At(j, i))
		}
	}
	return out
}
