package geometry

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateBearing is returned when a direction has no usable forward
// component, so azimuth and elevation cannot be formed.
var ErrDegenerateBearing = errors.New("degenerate bearing")

// BearingRotation returns the rotation encoding the bearing of dir in a
// body frame with x forward, y left and z up. Azimuth and elevation are
// taken as the small-angle ratios y/x and -z/x.
func BearingRotation(dir r3.Vec) (quat.Number, error) {
	if dir.X == 0 || !IsFinite(dir) {
		return quat.Number{}, errors.Wrapf(ErrDegenerateBearing, "direction (%g, %g, %g)", dir.X, dir.Y, dir.Z)
	}
	return FromEulerYPR(dir.Y/dir.X, -dir.Z/dir.X, 0), nil
}

// IsFinite reports whether no component of v is NaN or infinite.
func IsFinite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
