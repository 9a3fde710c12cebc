package camera

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// 640x480 camera with a 500px focal length and centred principal point.
func testInfo() worldmodel.CameraInfo {
	return worldmodel.CameraInfo{
		Width:  640,
		Height: 480,
		K:      [9]float64{500, 0, 320, 0, 500, 240, 0, 0, 1},
		P:      [12]float64{500, 0, 320, 0, 0, 500, 240, 0, 0, 0, 1, 0},
	}
}

const calibrationYAML = `image_width: 640
image_height: 480
camera_name: front
camera_matrix:
  rows: 3
  cols: 3
  data: [500, 0, 320, 0, 500, 240, 0, 0, 1]
distortion_model: plumb_bob
distortion_coefficients:
  rows: 1
  cols: 5
  data: [0.1, -0.2, 0, 0, 0]
rectification_matrix:
  rows: 3
  cols: 3
  data: [1, 0, 0, 0, 1, 0, 0, 0, 1]
projection_matrix:
  rows: 3
  cols: 4
  data: [500, 0, 320, 0, 0, 500, 240, 0, 0, 0, 1, 0]
`

func TestFromCameraInfo(t *testing.T) {
	m, err := FromCameraInfo(testInfo())
	require.NoError(t, err)
	assert.Equal(t, 500.0, m.Fx)
	assert.Equal(t, 240.0, m.Cy)

	t.Run("falls back to K", func(t *testing.T) {
		info := testInfo()
		info.P = [12]float64{}
		m, err := FromCameraInfo(info)
		require.NoError(t, err)
		assert.Equal(t, 500.0, m.Fy)
		assert.Equal(t, 320.0, m.Cx)
	})

	t.Run("rejects zero focal length", func(t *testing.T) {
		_, err := FromCameraInfo(worldmodel.CameraInfo{})
		assert.ErrorIs(t, err, ErrInvalidCalibration)
	})
}

func TestProjectPixelTo3dRay(t *testing.T) {
	m, err := FromCameraInfo(testInfo())
	require.NoError(t, err)

	assert.Equal(t, r3.Vec{Z: 1}, m.ProjectPixelTo3dRay(320, 240))

	// right and below centre in the image is right and down in the body frame
	ray := m.ProjectPixelTo3dRay(370, 290)
	assert.InDelta(t, 0.1, ray.X, 1e-12)
	assert.InDelta(t, 0.1, ray.Y, 1e-12)
	body := OpticalToBody(ray)
	assert.Equal(t, 1.0, body.X)
	assert.InDelta(t, -0.1, body.Y, 1e-12)
	assert.InDelta(t, -0.1, body.Z, 1e-12)
}

func TestToPosePercept(t *testing.T) {
	m, err := FromCameraInfo(testInfo())
	require.NoError(t, err)

	img := worldmodel.ImagePercept{
		Header: worldmodel.Header{FrameID: "camera"},
		Info:   worldmodel.Info{ClassID: worldmodel.StringPtr("victim"), ClassSupport: 1},
		X:      300, Y: 200, Width: 40, Height: 80,
	}

	t.Run("centre pixel", func(t *testing.T) {
		p, err := ToPosePercept(img, m, 2.0)
		require.NoError(t, err)
		assert.Equal(t, "camera", p.Header.FrameID)
		assert.Equal(t, "victim", p.Info.Class())
		pos := p.Pose.Pose.Position
		assert.InDelta(t, 2.0, pos.X, 1e-12)
		assert.InDelta(t, 0.0, pos.Y, 1e-12)
		assert.InDelta(t, 0.0, pos.Z, 1e-12)
		assert.True(t, p.Pose.PositionCovariance().IsZero())
		assert.InDelta(t, 1.0, p.Pose.Pose.Orientation.W, 1e-12)
	})

	t.Run("off-centre pixel keeps range", func(t *testing.T) {
		off := img
		off.X = 0 // centre u = 20, well left of the principal point
		p, err := ToPosePercept(off, m, 2.0)
		require.NoError(t, err)
		pos := p.Pose.Pose.Position.Vec()
		assert.InDelta(t, 2.0, r3.Norm(pos), 1e-12)
		assert.Greater(t, pos.Y, 0.0, "left of centre is +y")

		yaw, _, _ := geometry.ToEulerYPR(p.Pose.Pose.Orientation.Number())
		assert.InDelta(t, pos.Y/pos.X, yaw, 1e-9)
	})

	t.Run("degenerate pixel", func(t *testing.T) {
		bad := img
		bad.X = math.NaN()
		_, err := ToPosePercept(bad, m, 2.0)
		assert.ErrorIs(t, err, geometry.ErrDegenerateBearing)
	})
}

func TestParseCalibration(t *testing.T) {
	info, err := ParseCalibration([]byte(calibrationYAML))
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, "plumb_bob", info.DistortionModel)
	assert.Len(t, info.D, 5)
	assert.Equal(t, testInfo().P, info.P)
	assert.Equal(t, testInfo().K, info.K)

	t.Run("wrong size", func(t *testing.T) {
		_, err := ParseCalibration([]byte("projection_matrix:\n  rows: 3\n  cols: 3\n  data: [1, 2, 3]\n"))
		assert.ErrorIs(t, err, ErrInvalidCalibration)
	})
}

func TestCache(t *testing.T) {
	c := NewCache()

	_, err := c.Resolve("camera", nil)
	assert.ErrorIs(t, err, ErrNoCalibration)

	info := testInfo()
	first, err := c.Resolve("camera", &info)
	require.NoError(t, err)

	t.Run("first calibration wins", func(t *testing.T) {
		other := testInfo()
		other.P[0] = 800
		other.P[5] = 800
		got, err := c.Resolve("camera", &other)
		require.NoError(t, err)
		assert.Same(t, first, got)
	})

	t.Run("concurrent resolves agree", func(t *testing.T) {
		cc := NewCache()
		var wg sync.WaitGroup
		results := make([]*Pinhole, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				info := testInfo()
				m, err := cc.Resolve("cam", &info)
				assert.NoError(t, err)
				results[i] = m
			}(i)
		}
		wg.Wait()
		for _, m := range results {
			assert.Same(t, results[0], m)
		}
	})

	t.Run("load files", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "front.yaml")
		require.NoError(t, os.WriteFile(path, []byte(calibrationYAML), 0o644))

		cc := NewCache()
		require.NoError(t, cc.LoadFiles(map[string]string{"front_camera": path}))
		m, ok := cc.Get("front_camera")
		require.True(t, ok)
		assert.Equal(t, 500.0, m.Fx)

		assert.Error(t, cc.LoadFiles(map[string]string{"x": filepath.Join(t.TempDir(), "missing.yaml")}))
	})
}
