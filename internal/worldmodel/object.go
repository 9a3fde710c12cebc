package worldmodel

import (
	"encoding/json"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
)

// Object is a single physical thing believed to exist, expressed in the
// global reference frame.
type Object struct {
	ID          string
	ClassID     *string // nil when unclassified
	Name        string
	Position    r3.Vec
	Orientation quat.Number
	Covariance  geometry.Cov3 // positional, symmetric
	Support     float64
	State       State
	Header      Header
}

// NewObject returns a pending object at the origin with identity orientation.
func NewObject(classID *string, id string) *Object {
	return &Object{
		ID:          id,
		ClassID:     cloneString(classID),
		Orientation: geometry.IdentityRotation,
		State:       StatePending,
	}
}

// Class returns the class id or "" when unclassified.
func (o *Object) Class() string { return deref(o.ClassID) }

// Clone returns a deep copy safe to hand outside the model lock.
func (o *Object) Clone() Object {
	c := *o
	c.ClassID = cloneString(o.ClassID)
	return c
}

// MatchesClass reports whether a percept with the given class hint may be
// associated with o. Unclassified objects and unclassified hints match
// anything.
func (o *Object) MatchesClass(classID *string) bool {
	if classID == nil || o.ClassID == nil {
		return true
	}
	return *o.ClassID == *classID
}

// Fuse combines the object's estimate with an observation and accumulates
// its support. It reports false when the joint covariance is singular, in
// which case the position and covariance are left as they were and only the
// support is added.
func (o *Object) Fuse(position r3.Vec, covariance geometry.Cov3, support float64) bool {
	x, p, ok := geometry.Fuse(o.Position, o.Covariance, position, covariance)
	if ok {
		o.Position = x
		o.Covariance = p
	}
	o.AddSupport(support)
	return ok
}

// AddSupport adds s (possibly negative) to the accumulated support.
func (o *Object) AddSupport(s float64) {
	o.Support += s
}

// SetCovariance stores a symmetrised copy of c.
func (o *Object) SetCovariance(c geometry.Cov3) {
	o.Covariance = c.Symmetrize()
}

// Pose returns the object's pose in wire form.
func (o *Object) Pose() Pose {
	return Pose{
		Position:    PointFrom(o.Position),
		Orientation: QuaternionFrom(o.Orientation),
	}
}

// objectJSON is the snapshot shape published on every channel.
type objectJSON struct {
	ID      string             `json:"id"`
	ClassID *string            `json:"class_id,omitempty"`
	Name    string             `json:"name,omitempty"`
	Pose    PoseWithCovariance `json:"pose"`
	Support float64            `json:"support"`
	State   State              `json:"state"`
	Header  Header             `json:"header"`
}

// MarshalJSON encodes the object with its covariance embedded in the
// 6×6 pose covariance, matching the percept wire format.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(objectJSON{
		ID:      o.ID,
		ClassID: o.ClassID,
		Name:    o.Name,
		Pose: PoseWithCovariance{
			Pose:       o.Pose(),
			Covariance: o.Covariance.Embed6(),
		},
		Support: o.Support,
		State:   o.State,
		Header:  o.Header,
	})
}

// UnmarshalJSON decodes the snapshot shape. Empty ids become absent and a
// missing state defaults to pending.
func (o *Object) UnmarshalJSON(b []byte) error {
	var w objectJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*o = Object{
		ID:          w.ID,
		ClassID:     StringPtr(deref(w.ClassID)),
		Name:        w.Name,
		Position:    w.Pose.Pose.Position.Vec(),
		Orientation: w.Pose.Pose.Orientation.Number(),
		Covariance:  w.Pose.PositionCovariance().Symmetrize(),
		Support:     w.Support,
		State:       w.State,
		Header:      w.Header,
	}
	if o.State == "" {
		o.State = StatePending
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
