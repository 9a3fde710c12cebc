package transform

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// OdometryFrames names the frames a robot pose is split into.
type OdometryFrames struct {
	// Frame overrides the odometry header frame when set.
	Frame      string
	Footprint  string
	Stabilized string
	// Child is used when the odometry carries no child frame.
	Child string
}

// OdometryFramesFromConfig reads the frame names from the service config.
func OdometryFramesFromConfig(cfg *config.Config) OdometryFrames {
	return OdometryFrames{
		Frame:      cfg.GetOdometryFrameID(),
		Footprint:  cfg.GetFootprintFrameID(),
		Stabilized: cfg.GetStabilizedFrameID(),
		Child:      cfg.GetChildFrameID(),
	}
}

// Decompose splits a robot pose into the chain
//
//	frame -> footprint (x, y, yaw) -> stabilized (z) -> child (roll, pitch)
//
// An empty footprint or stabilized frame, or one equal to the child, is
// skipped and its share of the pose moves down to the next link.
func Decompose(odom worldmodel.Odometry, f OdometryFrames) ([]Stamped, error) {
	parent := odom.Header.FrameID
	if f.Frame != "" {
		parent = f.Frame
	}
	child := odom.ChildFrameID
	if child == "" {
		child = f.Child
	}
	if child == "" {
		child = "base_link"
	}
	if parent == "" {
		return nil, errors.Wrap(ErrInvalidTransform, "odometry has no frame")
	}

	pos := odom.Pose.Position.Vec()
	yaw, pitch, roll := geometry.ToEulerYPR(odom.Pose.Orientation.Number())
	stamp := odom.Header.Stamp

	var out []Stamped
	if f.Footprint != "" && f.Footprint != child {
		out = append(out, Stamped{
			Parent: parent,
			Child:  f.Footprint,
			Stamp:  stamp,
			Transform: geometry.Transform{
				Rotation:    geometry.FromEulerYPR(yaw, 0, 0),
				Translation: r3.Vec{X: pos.X, Y: pos.Y},
			},
		})
		yaw, pos.X, pos.Y = 0, 0, 0
		parent = f.Footprint
	}
	if f.Stabilized != "" && f.Stabilized != child {
		out = append(out, Stamped{
			Parent: parent,
			Child:  f.Stabilized,
			Stamp:  stamp,
			Transform: geometry.Transform{
				Rotation:    geometry.IdentityRotation,
				Translation: r3.Vec{Z: pos.Z},
			},
		})
		pos.Z = 0
		parent = f.Stabilized
	}
	out = append(out, Stamped{
		Parent: parent,
		Child:  child,
		Stamp:  stamp,
		Transform: geometry.Transform{
			Rotation:    geometry.FromEulerYPR(yaw, pitch, roll),
			Translation: pos,
		},
	})
	return out, nil
}

// PublishOdometry decomposes odom and inserts every resulting link.
func (b *Buffer) PublishOdometry(odom worldmodel.Odometry, f OdometryFrames) error {
	links, err := Decompose(odom, f)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := b.Set(l); err != nil {
			return errors.Wrapf(err, "publish odometry %s -> %s", l.Parent, l.Child)
		}
	}
	return nil
}
