package tracker

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
)

// associate returns the object of a compatible class closest to the
// projection in squared Mahalanobis distance, using the sum of both
// covariances as the joint covariance. Only distances strictly below gate
// are accepted; on ties the first object in model order wins. Objects whose
// joint covariance is not positive definite are never matched. The model
// lock must be held.
func (t *Tracker) associate(p projector.Projection, gate float64) *worldmodel.Object {
	debug := t.debugEnabled()

	var best *worldmodel.Object
	minDist := gate
	for o := range t.model.All() {
		if !o.MatchesClass(p.Info.ClassID) {
			continue
		}
		joint := o.Covariance.Add(p.Covariance)
		dist2, ok := geometry.MahalanobisSquared(r3.Sub(o.Position, p.Position), joint)
		if !ok {
			if debug {
				t.DebugCollector.RecordAssociation(o.ID, math.Inf(1), false)
			}
			continue
		}
		accepted := dist2 < minDist
		if accepted {
			best = o
			minDist = dist2
		}
		if debug {
			t.DebugCollector.RecordAssociation(o.ID, dist2, accepted)
			if e, ok := geometry.CovarianceEllipse(joint.Block2(), math.Sqrt(gate)); ok {
				t.DebugCollector.RecordGatingRegion(o.ID, o.Position.X, o.Position.Y, e.SemiMajor, e.SemiMinor, e.Angle)
			}
		}
	}
	return best
}
