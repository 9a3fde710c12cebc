package camera

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// ErrNoCalibration is returned when a percept arrives for a frame whose
// calibration is unknown and the percept carries none.
var ErrNoCalibration = errors.New("no camera calibration for frame")

// Cache holds one camera model per frame id. The first calibration seen for
// a frame wins; later ones are ignored.
type Cache struct {
	mu     sync.RWMutex
	models map[string]*Pinhole
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{models: make(map[string]*Pinhole)}
}

// Get returns the model for frame, if known.
func (c *Cache) Get(frame string) (*Pinhole, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[frame]
	return m, ok
}

// Set stores m for frame unless one is already present. It reports whether
// m was stored.
func (c *Cache) Set(frame string, m *Pinhole) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[frame]; ok {
		return false
	}
	c.models[frame] = m
	return true
}

// Resolve returns the cached model for frame, building it from info on
// first sight.
func (c *Cache) Resolve(frame string, info *worldmodel.CameraInfo) (*Pinhole, error) {
	if m, ok := c.Get(frame); ok {
		return m, nil
	}
	if info == nil {
		return nil, errors.Wrapf(ErrNoCalibration, "frame %q", frame)
	}
	m, err := FromCameraInfo(*info)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %q", frame)
	}
	if !c.Set(frame, m) {
		// lost a race with another first percept
		m, _ = c.Get(frame)
	}
	return m, nil
}

// LoadFiles preloads calibrations from camera_info YAML files keyed by frame.
func (c *Cache) LoadFiles(files map[string]string) error {
	for frame, path := range files {
		info, err := LoadCalibration(path)
		if err != nil {
			return err
		}
		m, err := FromCameraInfo(info)
		if err != nil {
			return errors.Wrapf(err, "calibration %s", path)
		}
		c.Set(frame, m)
	}
	return nil
}
