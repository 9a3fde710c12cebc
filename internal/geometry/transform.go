package geometry

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform: a point p in the source frame maps to
// Rotation·p + Translation in the target frame.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// IdentityTransform returns the transform that leaves every point unchanged.
func IdentityTransform() Transform {
	return Transform{Rotation: IdentityRotation}
}

// Apply maps p from the source into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(RotateVec(t.Rotation, p), t.Translation)
}

// ApplyRotation maps an orientation from the source into the target frame.
func (t Transform) ApplyRotation(q quat.Number) quat.Number {
	return Normalize(quat.Mul(Normalize(t.Rotation), Normalize(q)))
}

// Compose returns t∘o: o is applied first, then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Rotation:    Normalize(quat.Mul(Normalize(t.Rotation), Normalize(o.Rotation))),
		Translation: t.Apply(o.Translation),
	}
}

// Inverse returns the transform mapping the target back into the source frame.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(Normalize(t.Rotation))
	return Transform{
		Rotation:    inv,
		Translation: r3.Scale(-1, RotateVec(inv, t.Translation)),
	}
}

// Interpolate blends a towards b: translation linearly, rotation by slerp.
func Interpolate(a, b Transform, ratio float64) Transform {
	return Transform{
		Rotation:    Slerp(a.Rotation, b.Rotation, ratio),
		Translation: r3.Add(a.Translation, r3.Scale(ratio, r3.Sub(b.Translation, a.Translation))),
	}
}
