// Package tracker associates percepts with tracked objects, fuses their
// estimates and keeps the support bookkeeping. It also serves the direct
// object mutation requests and triggers publication after every change.
package tracker

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/camera"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

var (
	// ErrAddObjectFailed is returned when a create-or-update request cannot
	// be projected or transformed. Nothing is inserted.
	ErrAddObjectFailed = errors.New("add object failed")
	// ErrInvalidRequest is returned for malformed direct requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// Action says what a percept did to the model.
type Action string

const (
	ActionCreated Action = "created" // no match, new object
	ActionFused   Action = "fused"   // matched and fused
	ActionDecayed Action = "decayed" // matched, negative support applied
	ActionDropped Action = "dropped" // discarded before or at association
)

// Result reports the outcome of one percept.
type Result struct {
	ObjectID string `json:"object_id,omitempty"`
	Action   Action `json:"action"`
	Reason   string `json:"reason,omitempty"`
}

// Config holds the tracker's tuning.
type Config struct {
	// GatingDistanceSquared is the association gate in squared Mahalanobis
	// units. A candidate must be strictly below it.
	GatingDistanceSquared float64
	// ConfirmSupportBonus is added for each CONFIRM verification.
	ConfirmSupportBonus float64
	// ConfirmSupport promotes pending objects to confirmed once reached.
	// Zero disables promotion.
	ConfirmSupport float64
	// VerificationTimeout bounds each verification call.
	VerificationTimeout time.Duration
}

// ConfigFrom extracts the tracker tuning from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		GatingDistanceSquared: cfg.GetGatingDistanceSquared(),
		ConfirmSupportBonus:   cfg.GetConfirmSupportBonus(),
		ConfirmSupport:        cfg.GetConfirmSupport(),
		VerificationTimeout:   cfg.GetVerificationTimeout(),
	}
}

// Tracker owns the object model.
type Tracker struct {
	model     *worldmodel.Model
	projector *projector.Projector
	cameras   *camera.Cache
	publisher publish.Publisher
	clock     timeutil.Clock
	log       *zap.SugaredLogger

	// mu guards the tuning and collaborators below, not the model.
	mu        sync.RWMutex
	cfg       Config
	verifiers []verify.Verifier

	// DebugCollector captures association internals (optional)
	DebugCollector DebugCollector
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher sets where updates are published. Defaults to publish.Nop.
func WithPublisher(p publish.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithVerifiers sets the verification services, called in order.
func WithVerifiers(v ...verify.Verifier) Option {
	return func(t *Tracker) { t.verifiers = v }
}

// WithCameras sets the camera model cache used for image percepts.
func WithCameras(c *camera.Cache) Option {
	return func(t *Tracker) { t.cameras = c }
}

// WithClock sets the source of "now" for unset stamps.
func WithClock(c timeutil.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithModel uses an existing model store.
func WithModel(m *worldmodel.Model) Option {
	return func(t *Tracker) { t.model = m }
}

// WithLogger replaces the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Tracker) { t.log = l }
}

// New creates a tracker over an empty model.
func New(cfg Config, proj *projector.Projector, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		projector: proj,
		model:     worldmodel.NewModel(),
		cameras:   camera.NewCache(),
		publisher: publish.Nop{},
		clock:     timeutil.RealClock{},
		log:       monitoring.Named("tracker"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Projector returns the projector used for percepts and direct requests.
func (t *Tracker) Projector() *projector.Projector { return t.projector }

// Cameras returns the camera model cache.
func (t *Tracker) Cameras() *camera.Cache { return t.cameras }

// Config returns a copy of the current tuning.
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// UpdateConfig applies fn to the tracker's tuning under the tracker lock.
// This is the safe way to change tuning while percepts are in flight.
func (t *Tracker) UpdateConfig(fn func(*Config)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.cfg)
}

// ApplyConfig pushes a reloaded service configuration into the tracker and
// its projector. Verification services are rebuilt by the caller with
// SetVerifiers since they own network clients.
func (t *Tracker) ApplyConfig(cfg *config.Config) {
	next := ConfigFrom(cfg)
	t.UpdateConfig(func(c *Config) { *c = next })
	t.projector.UpdateSettings(projector.SettingsFromConfig(cfg))
	t.log.Infow("configuration applied",
		"frame_id", cfg.GetFrameID(),
		"project_objects", cfg.GetProjectObjects(),
		"gating_distance_squared", next.GatingDistanceSquared)
}

// SetVerifiers replaces the verification services.
func (t *Tracker) SetVerifiers(v []verify.Verifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifiers = append([]verify.Verifier(nil), v...)
}

func (t *Tracker) snapshotSettings() (Config, []verify.Verifier) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg, t.verifiers
}

func (t *Tracker) debugEnabled() bool {
	return t.DebugCollector != nil && t.DebugCollector.IsEnabled()
}

// AnnounceSession tells session-aware publishers which session the model is
// in. Call it once the publishers are wired, before percepts flow.
func (t *Tracker) AnnounceSession() {
	t.model.WithLock(t.publishSessionLocked)
}

func (t *Tracker) publishSessionLocked() {
	if sp, ok := t.publisher.(publish.SessionPublisher); ok {
		sp.PublishSession(t.model.Session())
	}
}

// publishLocked emits the object (if still present) and then the full
// model. The model lock must be held, which keeps publications in the
// same order as the mutations that caused them.
func (t *Tracker) publishLocked(id string) {
	if id != "" {
		if o, ok := t.model.Get(id); ok {
			t.publisher.PublishObject(o.Clone())
		}
	}
	t.publisher.PublishModel(t.model.Snapshot())
}
