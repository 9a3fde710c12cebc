package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

// DebugCollector receives association internals for visualisation and
// tuning. Record calls happen with the model lock held and must be quick.
type DebugCollector interface {
	IsEnabled() bool
	RecordAssociation(objectID string, distSquared float64, accepted bool)
	RecordGatingRegion(objectID string, centerX, centerY, semiMajor, semiMinor, rotation float64)
	RecordVerification(objectID, service string, response verify.Response)
}

// AssociationRecord is one object considered for a percept.
type AssociationRecord struct {
	ObjectID               string  `json:"object_id"`
	MahalanobisDistSquared float64 `json:"mahalanobis_dist_squared"`
	Accepted               bool    `json:"accepted"`
}

// GatingRegion is the gate ellipse around an object in the xy plane.
type GatingRegion struct {
	ObjectID  string  `json:"object_id"`
	CenterX   float64 `json:"center_x"`
	CenterY   float64 `json:"center_y"`
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	Rotation  float64 `json:"rotation"`
}

// VerificationRecord is one verification service answer.
type VerificationRecord struct {
	ObjectID string          `json:"object_id"`
	Service  string          `json:"service"`
	Response verify.Response `json:"response"`
}

// DebugSnapshot is the content of a DebugLog.
type DebugSnapshot struct {
	Associations  []AssociationRecord  `json:"associations"`
	GatingRegions []GatingRegion       `json:"gating_regions"`
	Verifications []VerificationRecord `json:"verifications"`
}

// DebugLog is a DebugCollector that keeps the most recent records of each
// kind, up to a fixed capacity.
type DebugLog struct {
	enabled  atomic.Bool
	capacity int

	mu   sync.Mutex
	snap DebugSnapshot
}

// NewDebugLog creates a disabled log holding up to capacity records per kind.
func NewDebugLog(capacity int) *DebugLog {
	if capacity < 1 {
		capacity = 1
	}
	return &DebugLog{capacity: capacity}
}

// SetEnabled turns recording on or off.
func (d *DebugLog) SetEnabled(on bool) { d.enabled.Store(on) }

// IsEnabled implements DebugCollector.
func (d *DebugLog) IsEnabled() bool { return d.enabled.Load() }

// RecordAssociation implements DebugCollector.
func (d *DebugLog) RecordAssociation(objectID string, distSquared float64, accepted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Associations = push(d.snap.Associations, AssociationRecord{objectID, distSquared, accepted}, d.capacity)
}

// RecordGatingRegion implements DebugCollector.
func (d *DebugLog) RecordGatingRegion(objectID string, centerX, centerY, semiMajor, semiMinor, rotation float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.GatingRegions = push(d.snap.GatingRegions,
		GatingRegion{objectID, centerX, centerY, semiMajor, semiMinor, rotation}, d.capacity)
}

// RecordVerification implements DebugCollector.
func (d *DebugLog) RecordVerification(objectID, service string, response verify.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Verifications = push(d.snap.Verifications, VerificationRecord{objectID, service, response}, d.capacity)
}

// Snapshot returns a copy of the recorded data, oldest first.
func (d *DebugLog) Snapshot() DebugSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DebugSnapshot{
		Associations:  append([]AssociationRecord(nil), d.snap.Associations...),
		GatingRegions: append([]GatingRegion(nil), d.snap.GatingRegions...),
		Verifications: append([]VerificationRecord(nil), d.snap.Verifications...),
	}
}

// Reset discards everything recorded so far.
func (d *DebugLog) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap = DebugSnapshot{}
}

func push[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if len(s) > capacity {
		s = append(s[:0], s[len(s)-capacity:]...)
	}
	return s
}
