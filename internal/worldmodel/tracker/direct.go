package tracker

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// SetObjectState overwrites an object's state, fixed or not, and
// republishes it.
func (t *Tracker) SetObjectState(_ context.Context, id string, state worldmodel.State) (worldmodel.Object, error) {
	if !state.Valid() {
		return worldmodel.Object{}, errors.Wrapf(ErrInvalidRequest, "state %q", state)
	}

	var (
		out worldmodel.Object
		err error
	)
	t.model.WithLock(func() {
		obj, ok := t.model.Get(id)
		if !ok {
			err = errors.Wrapf(worldmodel.ErrObjectNotFound, "set state of %q", id)
			return
		}
		obj.State = state
		out = obj.Clone()
		t.publishLocked(id)
	})
	if err != nil {
		return worldmodel.Object{}, err
	}
	t.log.Infow("object state set", "object", id, "state", state)
	return out, nil
}

// AddObjectRequest is an explicit create-or-update. An empty Object.ID
// always creates a new object.
type AddObjectRequest struct {
	Object worldmodel.Object `json:"object"`
	// MapToNextObstacle snaps the pose to the ranged obstacle distance first.
	MapToNextObstacle bool `json:"map_to_next_obstacle"`
}

// AddObject creates or overwrites an object with the given description.
// There is no fusion: header, pose, covariance, state and support are set
// as given. A zero stamp means now and a zero covariance means unit
// variance. Projection and transform failures wrap ErrAddObjectFailed and
// leave the model untouched.
func (t *Tracker) AddObject(ctx context.Context, req AddObjectRequest) (worldmodel.Object, error) {
	in := req.Object
	if in.State != "" && !in.State.Valid() {
		return worldmodel.Object{}, errors.Wrapf(ErrInvalidRequest, "state %q", in.State)
	}
	if in.State == "" {
		in.State = worldmodel.StatePending
	}

	header := in.Header
	header.Stamp = timeutil.StampOrNow(t.clock, header.Stamp)

	cov6 := in.Covariance.Embed6()
	if in.Covariance.IsZero() {
		cov6[0], cov6[7], cov6[14] = 1, 1, 1
	}
	pose := worldmodel.PoseWithCovariance{Pose: in.Pose(), Covariance: cov6}

	if req.MapToNextObstacle {
		mapped, err := t.projector.MapToNextObstacle(ctx, pose.Pose, header)
		if err != nil {
			t.log.Debugw("could not map object to next obstacle", "object", in.ID, "error", err)
			return worldmodel.Object{}, errors.Mark(errors.Wrap(err, "map to next obstacle"), ErrAddObjectFailed)
		}
		pose.Pose = mapped
	}

	pose, header, err := t.projector.TransformPose(ctx, pose, header)
	if err != nil {
		t.log.Warnw("could not transform object pose", "object", in.ID, "frame", in.Header.FrameID, "error", err)
		return worldmodel.Object{}, errors.Mark(errors.Wrap(err, "transform pose"), ErrAddObjectFailed)
	}

	var out worldmodel.Object
	t.model.WithLock(func() {
		var obj *worldmodel.Object
		exists := false
		if in.ID != "" {
			obj, exists = t.model.Get(in.ID)
		}
		if !exists {
			obj = worldmodel.NewObject(in.ClassID, in.ID)
		}

		obj.Name = in.Name
		obj.Header = header
		obj.Position = pose.Pose.Position.Vec()
		obj.Orientation = pose.Pose.Orientation.Number()
		obj.SetCovariance(pose.PositionCovariance())
		obj.State = in.State
		obj.Support = in.Support

		if !exists {
			// ids are only taken under this lock, so this cannot collide
			if err = t.model.AddObject(obj); err != nil {
				return
			}
		}
		out = obj.Clone()
		t.publishLocked(obj.ID)
	})
	if err != nil {
		return worldmodel.Object{}, errors.Mark(err, ErrAddObjectFailed)
	}
	t.log.Infow("object added", "object", out.ID, "class", out.Class(), "state", out.State)
	return out, nil
}

// GetObjectModel returns a snapshot of every object in model order.
func (t *Tracker) GetObjectModel() []worldmodel.Object {
	var out []worldmodel.Object
	t.model.WithLock(func() { out = t.model.Snapshot() })
	return out
}

// ModelSnapshot returns the session and the objects read under one lock,
// so the pair always belongs to the same model generation.
func (t *Tracker) ModelSnapshot() (uuid.UUID, []worldmodel.Object) {
	var (
		session uuid.UUID
		out     []worldmodel.Object
	)
	t.model.WithLock(func() {
		session = t.model.Session()
		out = t.model.Snapshot()
	})
	return session, out
}

// GetObject returns a snapshot of one object.
func (t *Tracker) GetObject(id string) (worldmodel.Object, error) {
	var (
		out worldmodel.Object
		ok  bool
	)
	t.model.WithLock(func() {
		var o *worldmodel.Object
		if o, ok = t.model.Get(id); ok {
			out = o.Clone()
		}
	})
	if !ok {
		return worldmodel.Object{}, errors.Wrapf(worldmodel.ErrObjectNotFound, "get %q", id)
	}
	return out, nil
}

// Reset atomically empties the model and publishes the empty snapshot.
func (t *Tracker) Reset() {
	t.log.Info("resetting object model")
	t.model.WithLock(func() {
		t.model.Reset()
		t.publishSessionLocked()
		t.publishLocked("")
	})
}

// HandleSysCommand processes a control channel message. It reports whether
// the command was recognised; only "reset" is.
func (t *Tracker) HandleSysCommand(cmd worldmodel.SysCommand) bool {
	if cmd.Data != "reset" {
		return false
	}
	t.Reset()
	return true
}
