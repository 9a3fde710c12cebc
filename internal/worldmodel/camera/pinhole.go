// Package camera turns bearing-only image percepts into pose percepts using
// a rectified pinhole camera model.
package camera

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// ErrInvalidCalibration is returned for calibrations without usable focal lengths.
var ErrInvalidCalibration = errors.New("invalid camera calibration")

// Pinhole is a rectified pinhole camera described by its projection matrix.
type Pinhole struct {
	Fx, Fy float64 // focal lengths in pixels
	Cx, Cy float64 // principal point
	Tx, Ty float64 // stereo baseline terms of P
	Width  int
	Height int
}

// FromCameraInfo builds a model from the projection matrix P. Calibrations
// that only carry the intrinsic matrix K fall back to it.
func FromCameraInfo(info worldmodel.CameraInfo) (*Pinhole, error) {
	p := info.P
	if p == [12]float64{} {
		k := info.K
		p = [12]float64{
			k[0], k[1], k[2], 0,
			k[3], k[4], k[5], 0,
			k[6], k[7], k[8], 0,
		}
	}
	m := &Pinhole{
		Fx: p[0], Cx: p[2], Tx: p[3],
		Fy: p[5], Cy: p[6], Ty: p[7],
		Width: info.Width, Height: info.Height,
	}
	if !(m.Fx > 0) || !(m.Fy > 0) {
		return nil, errors.Wrapf(ErrInvalidCalibration, "focal lengths fx=%g fy=%g", m.Fx, m.Fy)
	}
	return m, nil
}

// ProjectPixelTo3dRay returns the ray through pixel (u, v) in the optical
// frame (x right, y down, z forward), scaled so that z = 1.
func (m *Pinhole) ProjectPixelTo3dRay(u, v float64) r3.Vec {
	return r3.Vec{
		X: (u - m.Cx - m.Tx) / m.Fx,
		Y: (v - m.Cy - m.Ty) / m.Fy,
		Z: 1,
	}
}

// OpticalToBody maps an optical-frame vector to the sensor body frame
// (x forward, y left, z up).
func OpticalToBody(v r3.Vec) r3.Vec {
	return r3.Vec{X: v.Z, Y: -v.X, Z: -v.Y}
}
