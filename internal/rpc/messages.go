package rpc

import (
	"time"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

// Service and method names.
const (
	WorldModelServiceName   = "worldmodel.WorldModel"
	VerificationServiceName = "worldmodel.Verification"
	RangingServiceName      = "worldmodel.Ranging"
)

// Empty is the message of calls that carry nothing.
type Empty struct{}

type GetObjectModelRequest struct{}

// ObjectModel is a snapshot of every tracked object.
type ObjectModel struct {
	Session string              `json:"session"`
	Objects []worldmodel.Object `json:"objects"`
}

type GetObjectRequest struct {
	ObjectID string `json:"object_id"`
}

type SetObjectStateRequest struct {
	ObjectID string           `json:"object_id"`
	State    worldmodel.State `json:"state"`
}

type SysCommandResponse struct {
	Handled bool `json:"handled"`
}

// WatchRequest opens an object update stream. With Snapshot set the
// current model is sent first.
type WatchRequest struct {
	Snapshot bool `json:"snapshot"`
}

// VerifyRequest asks an external verification service for a judgement of
// a tracked object.
type VerifyRequest struct {
	Object worldmodel.Object `json:"object"`
}

type VerifyResponse struct {
	Response verify.Response `json:"response"`
}

// DistanceRequest asks the ranging service how far the next obstacle is
// along the ray from the frame origin through Point.
type DistanceRequest struct {
	FrameID string           `json:"frame_id"`
	Stamp   time.Time        `json:"stamp"`
	Point   worldmodel.Point `json:"point"`
}

type DistanceResponse struct {
	Distance float64 `json:"distance"`
}
