package tracker

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/camera"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
)

// HandleImagePercept converts a bearing-only percept into a pose percept
// and processes it. The first calibration seen for a frame is cached.
func (t *Tracker) HandleImagePercept(ctx context.Context, img worldmodel.ImagePercept) (Result, error) {
	cam, err := t.cameras.Resolve(img.Header.FrameID, img.CameraInfo)
	if err != nil {
		return Result{}, errors.Wrap(err, "image percept")
	}
	pp, err := camera.ToPosePercept(img, cam, t.projector.Settings().DefaultDistance)
	if err != nil {
		t.log.Warnw("dropping image percept", "frame", img.Header.FrameID, "class", img.Info.Class(), "error", err)
		return Result{Action: ActionDropped, Reason: err.Error()}, nil
	}
	return t.HandlePosePercept(ctx, pp)
}

// HandlePosePercept runs one fusion cycle for a pose percept.
//
// Projection (frame lookup, ranging) happens before the model lock is
// taken, so a failing collaborator aborts the cycle without touching the
// model. Normal drop outcomes return a Result with ActionDropped and a nil
// error; collaborator failures return an error.
func (t *Tracker) HandlePosePercept(ctx context.Context, pp worldmodel.PosePercept) (Result, error) {
	pp.Info.Normalize()

	proj, err := t.projector.Project(ctx, pp)
	if err != nil {
		if projector.IsDropped(err) {
			t.log.Debugw("ignoring percept", "class", pp.Info.Class(), "frame", pp.Header.FrameID, "reason", err)
			return Result{Action: ActionDropped, Reason: err.Error()}, nil
		}
		t.log.Warnw("percept processing failed", "class", pp.Info.Class(), "frame", pp.Header.FrameID, "error", err)
		return Result{}, err
	}
	proj.Header.Stamp = timeutil.StampOrNow(t.clock, proj.Header.Stamp)

	cfg, verifiers := t.snapshotSettings()

	var (
		res     Result
		snap    worldmodel.Object
		session uuid.UUID
	)
	t.model.WithLock(func() {
		session = t.model.Session()
		res, snap, err = t.apply(proj, cfg)
	})
	if err != nil {
		return Result{}, err
	}
	if res.Action == ActionDropped {
		t.log.Debugw("percept associated with fixed object", "object", res.ObjectID)
		return res, nil
	}

	if len(verifiers) > 0 {
		t.verify(ctx, snap, session, cfg, verifiers)
	}

	t.model.WithLock(func() { t.publishLocked(res.ObjectID) })
	return res, nil
}

// apply performs association and the create/fuse/decay branch. The model
// lock must be held.
func (t *Tracker) apply(p projector.Projection, cfg Config) (Result, worldmodel.Object, error) {
	var obj *worldmodel.Object
	if id := p.Info.ObjectID; id != nil {
		obj, _ = t.model.Get(*id)
	} else {
		obj = t.associate(p, cfg.GatingDistanceSquared)
	}

	if obj != nil && obj.State.IsFixed() {
		return Result{ObjectID: obj.ID, Action: ActionDropped, Reason: "object state is fixed"}, worldmodel.Object{}, nil
	}

	var action Action
	switch {
	case obj == nil:
		var err error
		obj, err = t.model.Add(p.Info.ClassID, p.Info.Object())
		if err != nil {
			return Result{}, worldmodel.Object{}, err
		}
		obj.Name = p.Info.Name
		obj.Position = p.Position
		obj.SetCovariance(p.Covariance)
		obj.Support = p.Support
		action = ActionCreated
		t.log.Infow("found new object",
			"object", obj.ID, "class", obj.Class(),
			"x", p.Position.X, "y", p.Position.Y, "z", p.Position.Z)

	case p.Support > 0:
		if !obj.Fuse(p.Position, p.Covariance, p.Support) {
			t.log.Warnw("singular joint covariance, kept prior estimate", "object", obj.ID)
		}
		action = ActionFused

	default:
		obj.AddSupport(p.Support)
		action = ActionDecayed
	}

	obj.Orientation = p.Orientation
	obj.Header = p.Header
	t.promote(obj, cfg)

	return Result{ObjectID: obj.ID, Action: action}, obj.Clone(), nil
}

// promote moves a pending object to confirmed once it has enough support.
func (t *Tracker) promote(obj *worldmodel.Object, cfg Config) {
	if cfg.ConfirmSupport > 0 && obj.State == worldmodel.StatePending && obj.Support >= cfg.ConfirmSupport {
		obj.State = worldmodel.StateConfirmed
		t.log.Infow("object confirmed by support", "object", obj.ID, "support", obj.Support)
	}
}
