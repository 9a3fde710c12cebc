package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ellipse is a 2-D confidence ellipse: semi-axes in metres and the rotation
// of the major axis from +X in radians.
type Ellipse struct {
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	Angle     float64 `json:"angle"`
}

// CovarianceEllipse returns the sigma-scaled ellipse of a row-major 2×2
// covariance block.
func CovarianceEllipse(c [4]float64, sigma float64) (Ellipse, bool) {
	sym := mat.NewSymDense(2, []float64{c[0], 0.5 * (c[1] + c[2]), 0.5 * (c[1] + c[2]), c[3]})
	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return Ellipse{}, false
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Values are ascending; column 1 is the major axis.
	major, minor := math.Max(vals[1], 0), math.Max(vals[0], 0)
	return Ellipse{
		SemiMajor: sigma * math.Sqrt(major),
		SemiMinor: sigma * math.Sqrt(minor),
		Angle:     math.Atan2(vecs.At(1, 1), vecs.At(0, 1)),
	}, true
}

// Outline samples n points on the ellipse centred at (cx, cy).
func (e Ellipse) Outline(cx, cy float64, n int) [][2]float64 {
	if n < 3 {
		n = 3
	}
	sa, ca := math.Sincos(e.Angle)
	pts := make([][2]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		st, ct := math.Sincos(2 * math.Pi * float64(i) / float64(n))
		x := e.SemiMajor * ct
		y := e.SemiMinor * st
		pts = append(pts, [2]float64{cx + x*ca - y*sa, cy + x*sa + y*ca})
	}
	return pts
}
