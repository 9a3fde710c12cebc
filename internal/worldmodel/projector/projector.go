// Package projector brings percepts into the global reference frame with a
// well-formed covariance, optionally snapping them to the nearest obstacle.
package projector

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// TransformProvider resolves rigid transforms between frames. It returns
// the transform taking points in source to target at stamp, waiting a
// bounded time for it to become available.
type TransformProvider interface {
	LookupTransform(ctx context.Context, target, source string, stamp time.Time) (geometry.Transform, error)
}

// RangingService measures the distance to the next obstacle along the ray
// from the origin of frame through point. A distance <= 0 means unknown.
type RangingService interface {
	DistanceToObstacle(ctx context.Context, frame string, point r3.Vec, stamp time.Time) (float64, error)
}

var (
	// ErrDropped marks normal outcomes that discard a percept: zero
	// support, out of height band, no usable range, degenerate bearing.
	ErrDropped = errors.New("percept dropped")

	ErrZeroSupport     = errors.New("percept has zero support")
	ErrOutOfHeightBand = errors.New("percept outside height band")
	ErrNoRange         = errors.New("no usable range to obstacle")
	ErrNonFinite       = errors.New("percept position is not finite")

	// ErrTransformUnavailable is returned when the frame lookup fails.
	ErrTransformUnavailable = errors.New("transform unavailable")
	// ErrRangingUnavailable is returned when the ranging service cannot be asked.
	ErrRangingUnavailable = errors.New("ranging service unavailable")
)

func dropped(err error) error {
	return errors.Mark(err, ErrDropped)
}

// IsDropped reports whether err is a normal drop outcome rather than a failure.
func IsDropped(err error) bool {
	return errors.Is(err, ErrDropped)
}

// Settings are the projection parameters.
type Settings struct {
	FrameID          string
	ProjectObjects   bool
	DefaultDistance  float64
	DistanceVariance float64
	AngleVariance    float64
	MinHeight        float64
	MaxHeight        float64
}

// SettingsFromConfig extracts projection settings, applying defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		FrameID:          cfg.GetFrameID(),
		ProjectObjects:   cfg.GetProjectObjects(),
		DefaultDistance:  cfg.GetDefaultDistance(),
		DistanceVariance: cfg.GetDistanceVariance(),
		AngleVariance:    cfg.GetAngleVariance(),
		MinHeight:        cfg.GetMinHeight(),
		MaxHeight:        cfg.GetMaxHeight(),
	}
}

// Projection is a percept expressed in the global frame.
type Projection struct {
	Header      worldmodel.Header // stamp of the percept, global frame id
	Info        worldmodel.Info
	Position    r3.Vec
	Orientation quat.Number
	Covariance  geometry.Cov3
	Support     float64
}

// Projector performs the projection. Either collaborator may be nil: a nil
// TransformProvider only accepts percepts already in the global frame and a
// nil RangingService makes every ranging request fail.
type Projector struct {
	mu       sync.RWMutex
	settings Settings

	transforms TransformProvider
	ranging    RangingService
}

// New creates a Projector.
func New(s Settings, transforms TransformProvider, ranging RangingService) *Projector {
	return &Projector{settings: s, transforms: transforms, ranging: ranging}
}

// Settings returns the current settings.
func (p *Projector) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// UpdateSettings replaces the settings used by subsequent projections.
func (p *Projector) UpdateSettings(s Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
}

// Project transforms a pose percept into the global frame.
//
// Drop outcomes are returned as errors marked with ErrDropped. Frame lookup
// and ranging failures wrap ErrTransformUnavailable or ErrRangingUnavailable.
func (p *Projector) Project(ctx context.Context, pp worldmodel.PosePercept) (Projection, error) {
	s := p.Settings()

	support := pp.Info.Support()
	if support == 0 || math.IsNaN(support) {
		return Projection{}, dropped(ErrZeroSupport)
	}

	pos := pp.Pose.Pose.Position.Vec()
	orientation := pp.Pose.Pose.Orientation.Number()
	if !geometry.IsFinite(pos) {
		return Projection{}, dropped(errors.Wrapf(ErrNonFinite, "position (%g, %g, %g)", pos.X, pos.Y, pos.Z))
	}

	cov := pp.Pose.PositionCovariance()
	transformed := needsTransform(pp.Header.FrameID, s.FrameID)

	// A supplied covariance on a global position is already expressed in
	// the global frame and has no sensor bearing to rotate by.
	bearing := cov.IsZero() || transformed || s.ProjectObjects
	direction := quat.Number{Real: 1}
	if bearing {
		var err error
		if direction, err = geometry.BearingRotation(pos); err != nil {
			return Projection{}, dropped(err)
		}
	}
	distance := r3.Norm(pos)

	if s.ProjectObjects {
		d, err := p.rangeTo(ctx, pp.Header, pos)
		if err != nil {
			return Projection{}, err
		}
		distance = d
		pos = r3.Scale(distance/r3.Norm(pos), pos)
	}

	if cov.IsZero() {
		cov = defaultCovariance(distance, s)
	}
	if bearing {
		cov = cov.Rotate(geometry.RotationMatrix(direction))
	}

	origin := r3.Vec{}
	if transformed {
		tf, err := p.lookup(ctx, s.FrameID, pp.Header)
		if err != nil {
			return Projection{}, err
		}
		pos = tf.Apply(pos)
		orientation = tf.ApplyRotation(orientation)
		cov = cov.Rotate(geometry.RotationMatrix(tf.Rotation))
		origin = tf.Translation
	}

	minH, maxH := s.MinHeight, s.MaxHeight
	if pp.MinHeight != nil {
		minH = *pp.MinHeight
	}
	if pp.MaxHeight != nil {
		maxH = *pp.MaxHeight
	}
	if h := pos.Z - origin.Z; h < minH || h > maxH {
		return Projection{}, dropped(errors.Wrapf(ErrOutOfHeightBand, "relative height %.3f not in [%.3f, %.3f]", h, minH, maxH))
	}

	return Projection{
		Header:      worldmodel.Header{Stamp: pp.Header.Stamp, FrameID: s.FrameID},
		Info:        pp.Info,
		Position:    pos,
		Orientation: orientation,
		Covariance:  cov,
		Support:     support,
	}, nil
}

// MapToNextObstacle moves the pose along its bearing to the distance
// reported by the ranging service.
func (p *Projector) MapToNextObstacle(ctx context.Context, pose worldmodel.Pose, h worldmodel.Header) (worldmodel.Pose, error) {
	pos := pose.Position.Vec()
	n := r3.Norm(pos)
	if n == 0 {
		return pose, dropped(errors.Wrap(ErrNoRange, "pose has no bearing"))
	}
	d, err := p.rangeTo(ctx, h, pos)
	if err != nil {
		return pose, err
	}
	pose.Position = worldmodel.PointFrom(r3.Scale(d/n, pos))
	return pose, nil
}

// TransformPose expresses a pose with covariance in the global frame. The
// full 6×6 covariance is rotated along with the pose. The returned header
// carries the global frame id.
func (p *Projector) TransformPose(ctx context.Context, pose worldmodel.PoseWithCovariance, h worldmodel.Header) (worldmodel.PoseWithCovariance, worldmodel.Header, error) {
	s := p.Settings()
	if !needsTransform(h.FrameID, s.FrameID) {
		h.FrameID = s.FrameID
		return pose, h, nil
	}
	tf, err := p.lookup(ctx, s.FrameID, h)
	if err != nil {
		return pose, h, err
	}

	out := worldmodel.PoseWithCovariance{
		Pose: worldmodel.Pose{
			Position:    worldmodel.PointFrom(tf.Apply(pose.Pose.Position.Vec())),
			Orientation: worldmodel.QuaternionFrom(tf.ApplyRotation(pose.Pose.Orientation.Number())),
		},
		Covariance: geometry.RotateCov6(pose.Covariance, geometry.RotationMatrix(tf.Rotation)),
	}
	h.FrameID = s.FrameID
	return out, h, nil
}

func (p *Projector) rangeTo(ctx context.Context, h worldmodel.Header, point r3.Vec) (float64, error) {
	if p.ranging == nil {
		return 0, errors.Wrap(ErrRangingUnavailable, "no ranging service configured")
	}
	d, err := p.ranging.DistanceToObstacle(ctx, h.FrameID, point, h.Stamp)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "distance to obstacle"), ErrRangingUnavailable)
	}
	if !(d > 0) || math.IsInf(d, 0) {
		return 0, dropped(errors.Wrapf(ErrNoRange, "distance %g", d))
	}
	return d, nil
}

func (p *Projector) lookup(ctx context.Context, target string, h worldmodel.Header) (geometry.Transform, error) {
	if p.transforms == nil {
		return geometry.Transform{}, errors.Wrapf(ErrTransformUnavailable, "no transform provider for %s -> %s", h.FrameID, target)
	}
	tf, err := p.transforms.LookupTransform(ctx, target, h.FrameID, h.Stamp)
	if err != nil {
		return geometry.Transform{}, errors.Mark(errors.Wrapf(err, "lookup %s -> %s", h.FrameID, target), ErrTransformUnavailable)
	}
	return tf, nil
}

// needsTransform reports whether frame differs from the global frame. An
// empty frame is taken to already be global.
func needsTransform(frame, global string) bool {
	return frame != "" && frame != global
}

// defaultCovariance is used when a percept carries no uncertainty: fixed
// variance along the bearing, lateral variance growing with range squared.
func defaultCovariance(distance float64, s Settings) geometry.Cov3 {
	lateral := math.Max(distance*distance, 1.0) * s.AngleVariance
	return geometry.DiagCov3(s.DistanceVariance, lateral, lateral)
}
