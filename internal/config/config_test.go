package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	assert.Equal(t, "map", cfg.GetFrameID())
	assert.False(t, cfg.GetProjectObjects())
	assert.Equal(t, 1.0, cfg.GetDefaultDistance())
	assert.Equal(t, 1.0, cfg.GetDistanceVariance())
	assert.InDelta(t, 5.0*math.Pi/180.0, cfg.GetAngleVariance(), 1e-12)
	assert.Equal(t, -999.9, cfg.GetMinHeight())
	assert.Equal(t, 999.9, cfg.GetMaxHeight())
	assert.Equal(t, 1.0, cfg.GetGatingDistanceSquared())
	assert.Equal(t, 100.0, cfg.GetConfirmSupportBonus())
	assert.Equal(t, 0.0, cfg.GetConfirmSupport())
	assert.Equal(t, time.Second, cfg.GetTransformWait())
	assert.Equal(t, 2*time.Second, cfg.GetVerificationTimeout())
	assert.Empty(t, cfg.GetVerificationServices())
	assert.Equal(t, "base_link", cfg.GetChildFrameID())
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsFileMatchesAccessors(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := Empty()

	assert.Equal(t, empty.GetFrameID(), cfg.GetFrameID())
	assert.Equal(t, empty.GetDefaultDistance(), cfg.GetDefaultDistance())
	assert.Equal(t, empty.GetDistanceVariance(), cfg.GetDistanceVariance())
	assert.InDelta(t, empty.GetAngleVariance(), cfg.GetAngleVariance(), 1e-12)
	assert.Equal(t, empty.GetMinHeight(), cfg.GetMinHeight())
	assert.Equal(t, empty.GetMaxHeight(), cfg.GetMaxHeight())
	assert.Equal(t, empty.GetGatingDistanceSquared(), cfg.GetGatingDistanceSquared())
	assert.Equal(t, empty.GetConfirmSupportBonus(), cfg.GetConfirmSupportBonus())
	assert.Equal(t, empty.GetTransformWait(), cfg.GetTransformWait())
	assert.Equal(t, empty.GetCacheDuration(), cfg.GetCacheDuration())
	assert.Equal(t, empty.GetFootprintFrameID(), cfg.GetFootprintFrameID())
	assert.Equal(t, empty.GetStabilizedFrameID(), cfg.GetStabilizedFrameID())
	assert.Equal(t, empty.GetHTTPListen(), cfg.GetHTTPListen())
	assert.Equal(t, empty.GetDBPath(), cfg.GetDBPath())
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("partial json", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "wm.json", `{
  "frame_id": "odom",
  "project_objects": true,
  "verification_services": ["victim_verifier", "qr_verifier"],
  "transform_wait": "250ms"
}`)
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, "odom", cfg.GetFrameID())
		assert.True(t, cfg.GetProjectObjects())
		assert.Equal(t, []string{"victim_verifier", "qr_verifier"}, cfg.GetVerificationServices())
		assert.Equal(t, 250*time.Millisecond, cfg.GetTransformWait())
		// untouched keys fall back
		assert.Equal(t, 1.0, cfg.GetDefaultDistance())
		assert.Nil(t, cfg.DefaultDistance)
	})

	t.Run("yaml", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "wm.yaml", "default_distance: 2.5\nmin_height: -1\nmax_height: 3\n")
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 2.5, cfg.GetDefaultDistance())
		assert.Equal(t, -1.0, cfg.GetMinHeight())
		assert.Equal(t, 3.0, cfg.GetMaxHeight())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "wm.json", `{"frame_id": "odom"}`)
		t.Setenv("WORLDMODEL_FRAME_ID", "world")
		t.Setenv("WORLDMODEL_DISTANCE_VARIANCE", "0.25")
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, "world", cfg.GetFrameID())
		assert.Equal(t, 0.25, cfg.GetDistanceVariance())
	})

	t.Run("rejects unknown extension", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "wm.txt", `{}`)
		_, err := Load(p)
		assert.Error(t, err)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "wm.json", `{"min_height": 5, "max_height": 1}`)
		_, err := Load(p)
		assert.ErrorContains(t, err, "min_height")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	neg := -1.0
	zero := 0.0
	bad := "soon"
	empty := ""

	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative default distance", Config{DefaultDistance: &neg}},
		{"zero distance variance", Config{DistanceVariance: &zero}},
		{"zero gate", Config{GatingDistanceSquared: &zero}},
		{"bad duration", Config{TransformWait: &bad}},
		{"empty frame", Config{FrameID: &empty}},
		{"blank verifier", Config{VerificationServices: []string{" "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestClone(t *testing.T) {
	cfg := &Config{
		VerificationServices: []string{"a"},
		CameraCalibrations:   map[string]string{"cam": "cam.yaml"},
	}
	c := cfg.Clone()
	c.VerificationServices[0] = "b"
	c.CameraCalibrations["cam"] = "other.yaml"

	assert.Equal(t, "a", cfg.VerificationServices[0])
	assert.Equal(t, "cam.yaml", cfg.CameraCalibrations["cam"])
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "wm.json", `{"default_distance": 1.0}`)

	w, err := NewWatcher(p, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	got := make(chan *Config, 4)
	w.OnReload(func(c *Config) { got <- c })

	writeFile(t, dir, "other.json", `{"default_distance": 9}`)
	writeFile(t, dir, "wm.json", `{"default_distance": 3.5}`)

	select {
	case cfg := <-got:
		assert.Equal(t, 3.5, cfg.GetDefaultDistance())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
