// Package ingest receives percepts, odometry and control messages as JSON
// datagrams over UDP and feeds them to the tracker.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
)

// Message kinds.
const (
	KindPosePercept  = "pose_percept"
	KindImagePercept = "image_percept"
	KindOdometry     = "odometry"
	KindSysCommand   = "syscommand"
)

// ErrUnknownKind is returned for envelopes of a kind nobody handles.
var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is one datagram: a kind tag and the message itself.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps msg in an envelope.
func Encode(kind string, msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", kind)
	}
	return json.Marshal(Envelope{Kind: kind, Payload: payload})
}

// Tracker is what the listener feeds. *tracker.Tracker implements it.
type Tracker interface {
	HandlePosePercept(ctx context.Context, pp worldmodel.PosePercept) (tracker.Result, error)
	HandleImagePercept(ctx context.Context, img worldmodel.ImagePercept) (tracker.Result, error)
	HandleSysCommand(cmd worldmodel.SysCommand) bool
}

// OdometryFunc consumes odometry messages.
type OdometryFunc func(worldmodel.Odometry) error

// Dispatcher decodes envelopes and routes them.
type Dispatcher struct {
	Tracker  Tracker
	Odometry OdometryFunc
}

// Dispatch handles one datagram.
func (d Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, "decode envelope")
	}
	switch env.Kind {
	case KindPosePercept:
		var pp worldmodel.PosePercept
		if err := json.Unmarshal(env.Payload, &pp); err != nil {
			return errors.Wrap(err, "decode pose percept")
		}
		_, err := d.Tracker.HandlePosePercept(ctx, pp)
		return err
	case KindImagePercept:
		var img worldmodel.ImagePercept
		if err := json.Unmarshal(env.Payload, &img); err != nil {
			return errors.Wrap(err, "decode image percept")
		}
		_, err := d.Tracker.HandleImagePercept(ctx, img)
		return err
	case KindSysCommand:
		var cmd worldmodel.SysCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return errors.Wrap(err, "decode syscommand")
		}
		d.Tracker.HandleSysCommand(cmd)
		return nil
	case KindOdometry:
		if d.Odometry == nil {
			break
		}
		var odom worldmodel.Odometry
		if err := json.Unmarshal(env.Payload, &odom); err != nil {
			return errors.Wrap(err, "decode odometry")
		}
		return d.Odometry(odom)
	}
	return errors.Wrapf(ErrUnknownKind, "%q", env.Kind)
}
