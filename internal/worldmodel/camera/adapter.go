package camera

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// ToPosePercept converts an image percept into a pose percept in the
// camera's body frame. The position lies defaultDistance along the ray
// through the centre of the pixel region; the orientation encodes the
// bearing. The covariance is left zero so the projector applies its
// range-dependent default.
func ToPosePercept(img worldmodel.ImagePercept, cam *Pinhole, defaultDistance float64) (worldmodel.PosePercept, error) {
	u := img.X + img.Width/2
	v := img.Y + img.Height/2
	dir := OpticalToBody(cam.ProjectPixelTo3dRay(u, v))

	q, err := geometry.BearingRotation(dir)
	if err != nil {
		return worldmodel.PosePercept{}, errors.Wrapf(err, "pixel (%g, %g)", u, v)
	}
	pos := r3.Scale(defaultDistance/r3.Norm(dir), dir)

	return worldmodel.PosePercept{
		Header: img.Header,
		Info:   img.Info,
		Pose: worldmodel.PoseWithCovariance{
			Pose: worldmodel.Pose{
				Position:    worldmodel.PointFrom(pos),
				Orientation: worldmodel.QuaternionFrom(q),
			},
		},
	}, nil
}
