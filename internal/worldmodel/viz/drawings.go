// Package viz turns published object models into drawable markers and
// renders them as an echarts HTML page or a PNG plot.
package viz

import (
	"sync"
	"time"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// EllipseSigma scales the covariance ellipse drawn around each object.
const EllipseSigma = 2.0

// Marker is the drawable form of one object: its position and the 2σ
// ellipse of the horizontal covariance block.
type Marker struct {
	ObjectID string           `json:"object_id"`
	Class    string           `json:"class,omitempty"`
	Name     string           `json:"name,omitempty"`
	State    worldmodel.State `json:"state"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Z        float64          `json:"z"`
	Support  float64          `json:"support"`
	Ellipse  geometry.Ellipse `json:"ellipse"`
	// HasEllipse is false when the covariance block could not be decomposed.
	HasEllipse bool `json:"has_ellipse"`
}

// MarkerFor builds the marker of an object.
func MarkerFor(o worldmodel.Object) Marker {
	m := Marker{
		ObjectID: o.ID,
		Class:    o.Class(),
		Name:     o.Name,
		State:    o.State,
		X:        o.Position.X,
		Y:        o.Position.Y,
		Z:        o.Position.Z,
		Support:  o.Support,
	}
	m.Ellipse, m.HasEllipse = geometry.CovarianceEllipse(o.Covariance.Block2(), EllipseSigma)
	return m
}

// Drawings is a publish.Publisher that keeps the markers of the most
// recent model.
type Drawings struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	markers []Marker
	index   map[string]int
	updated time.Time
}

// NewDrawings creates an empty sink.
func NewDrawings(clock timeutil.Clock) *Drawings {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Drawings{clock: clock, index: make(map[string]int)}
}

// PublishObject updates or appends the marker of one object.
func (d *Drawings) PublishObject(o worldmodel.Object) {
	m := MarkerFor(o)
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[o.ID]; ok {
		d.markers[i] = m
	} else {
		d.index[o.ID] = len(d.markers)
		d.markers = append(d.markers, m)
	}
	d.updated = d.clock.Now()
}

// PublishModel replaces every marker.
func (d *Drawings) PublishModel(objects []worldmodel.Object) {
	markers := make([]Marker, 0, len(objects))
	index := make(map[string]int, len(objects))
	for i, o := range objects {
		markers = append(markers, MarkerFor(o))
		index[o.ID] = i
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markers, d.index = markers, index
	d.updated = d.clock.Now()
}

// Markers returns a copy of the current markers in model order, and when
// they were last updated.
func (d *Drawings) Markers() ([]Marker, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Marker(nil), d.markers...), d.updated
}
