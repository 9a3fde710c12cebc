package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func vec3(v r3.Vec) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

// MahalanobisSquared returns dᵀ·S⁻¹·d. ok is false (and the distance +Inf)
// when S is not positive definite, so a degenerate joint covariance can never
// win an association.
func MahalanobisSquared(d r3.Vec, s Cov3) (dist2 float64, ok bool) {
	if !s.IsFinite() {
		return math.Inf(1), false
	}
	var chol mat.Cholesky
	if !chol.Factorize(s.Sym()) {
		return math.Inf(1), false
	}
	b := vec3(d)
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return math.Inf(1), false
	}
	dist2 = mat.Dot(b, &x)
	if math.IsNaN(dist2) {
		return math.Inf(1), false
	}
	return dist2, true
}

// Fuse combines a prior estimate (x1, p1) with an observation (x2, p2):
//
//	K = P1·(P1+P2)⁻¹
//	x = x1 + K·(x2 − x1)
//	P = P1 − K·P1
//
// which is the information-form product written so that a singular prior or
// observation is still usable as long as the sum is positive definite. The
// fused covariance is never larger than either input. ok is false when
// P1+P2 is not positive definite; the prior is then returned unchanged.
func Fuse(x1 r3.Vec, p1 Cov3, x2 r3.Vec, p2 Cov3) (r3.Vec, Cov3, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(p1.Add(p2).Sym()) {
		return x1, p1, false
	}

	// S is symmetric, so Kᵀ = S⁻¹·P1.
	var kt mat.Dense
	if err := chol.SolveTo(&kt, p1.Dense()); err != nil {
		return x1, p1, false
	}
	k := kt.T()

	var dx mat.VecDense
	dx.MulVec(k, vec3(r3.Sub(x2, x1)))
	x := r3.Add(x1, r3.Vec{X: dx.AtVec(0), Y: dx.AtVec(1), Z: dx.AtVec(2)})

	var kp, p mat.Dense
	kp.Mul(k, p1.Dense())
	p.Sub(p1.Dense(), &kp)

	fused := Cov3FromMatrix(&p)
	if !fused.IsFinite() {
		return x1, p1, false
	}
	return x, fused, true
}
