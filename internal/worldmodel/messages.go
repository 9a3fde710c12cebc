package worldmodel

import (
	"encoding/json"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
)

// Header stamps a message with its time and coordinate frame.
// A zero Stamp means "now" wherever a default applies.
type Header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// Point is the wire form of a 3-vector.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PointFrom converts a vector to its wire form.
func PointFrom(v r3.Vec) Point { return Point{X: v.X, Y: v.Y, Z: v.Z} }

// Vec converts the point to a vector.
func (p Point) Vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

// Quaternion is the wire form of an orientation, in x/y/z/w order.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// QuaternionFrom converts a quaternion to its wire form.
func QuaternionFrom(q quat.Number) Quaternion {
	return Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

// Number converts to a unit quaternion. An all-zero quaternion, as sent by
// clients that leave the orientation unset, becomes the identity.
func (q Quaternion) Number() quat.Number {
	return geometry.Normalize(quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z})
}

// Pose is a position and orientation.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PoseWithCovariance carries a row-major 6×6 covariance over
// (x, y, z, roll, pitch, yaw). Only the positional block is used.
type PoseWithCovariance struct {
	Pose       Pose        `json:"pose"`
	Covariance [36]float64 `json:"covariance"`
}

// PositionCovariance extracts the 3×3 positional block.
func (p PoseWithCovariance) PositionCovariance() geometry.Cov3 {
	return geometry.PositionalBlock(p.Covariance)
}

// Info identifies what a percept is believed to be and how strongly.
type Info struct {
	ClassID       *string `json:"class_id,omitempty"`
	ObjectID      *string `json:"object_id,omitempty"`
	Name          string  `json:"name,omitempty"`
	ClassSupport  float64 `json:"class_support,omitempty"`
	ObjectSupport float64 `json:"object_support,omitempty"`
}

// UnmarshalJSON decodes Info and turns empty ids into absent ones.
func (i *Info) UnmarshalJSON(b []byte) error {
	type plain Info
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*i = Info(p)
	i.Normalize()
	return nil
}

// Normalize clears ids that are present but empty.
func (i *Info) Normalize() {
	if i.ClassID != nil && *i.ClassID == "" {
		i.ClassID = nil
	}
	if i.ObjectID != nil && *i.ObjectID == "" {
		i.ObjectID = nil
	}
}

// Class returns the class id or "" when unclassified.
func (i Info) Class() string { return deref(i.ClassID) }

// Object returns the explicit object id or "".
func (i Info) Object() string { return deref(i.ObjectID) }

// Support returns the object support when the percept names an object,
// otherwise the class support when it names a class, otherwise zero.
func (i Info) Support() float64 {
	switch {
	case i.ObjectID != nil:
		return i.ObjectSupport
	case i.ClassID != nil:
		return i.ClassSupport
	}
	return 0
}

// PosePercept is a pose-with-covariance observation in a sensor frame.
// MinHeight and MaxHeight, when set, override the configured height band.
type PosePercept struct {
	Header    Header             `json:"header"`
	Info      Info               `json:"info"`
	Pose      PoseWithCovariance `json:"pose"`
	MinHeight *float64           `json:"min_height,omitempty"`
	MaxHeight *float64           `json:"max_height,omitempty"`
}

// ImagePercept is a bearing-only observation: a pixel region in a camera
// image. CameraInfo may be omitted once a calibration for the frame is known.
type ImagePercept struct {
	Header     Header      `json:"header"`
	Info       Info        `json:"info"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	CameraInfo *CameraInfo `json:"camera_info,omitempty"`
}

// CameraInfo is the calibration of a rectified pinhole camera.
type CameraInfo struct {
	Header          Header      `json:"header"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	DistortionModel string      `json:"distortion_model,omitempty"`
	D               []float64   `json:"d,omitempty"`
	K               [9]float64  `json:"k"`
	R               [9]float64  `json:"r"`
	P               [12]float64 `json:"p"`
}

// Odometry is a robot pose estimate, published as a transform chain.
type Odometry struct {
	Header       Header `json:"header"`
	ChildFrameID string `json:"child_frame_id,omitempty"`
	Pose         Pose   `json:"pose"`
}

// SysCommand is a control channel message; "reset" empties the model.
type SysCommand struct {
	Data string `json:"data"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for "" and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
