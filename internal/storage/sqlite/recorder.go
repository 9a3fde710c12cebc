package sqlite

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
)

// Recorder persists hub events. It runs on its own goroutine so a slow disk
// never holds up the tracker; events it misses while busy are dropped by
// the hub.
type Recorder struct {
	db    *DB
	clock timeutil.Clock

	session string
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *DB, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, clock: clock}
}

// Session returns the session events are currently recorded under.
func (r *Recorder) Session() string { return r.session }

// Run records events until ctx is done or the channel is closed. Write
// failures are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, events <-chan publish.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, ev); err != nil {
				r.db.log.Warnw("failed to record event", "kind", ev.Kind, "seq", ev.Seq, "error", err)
			}
		}
	}
}

// Record writes one event.
func (r *Recorder) Record(ctx context.Context, ev publish.Event) error {
	switch ev.Kind {
	case publish.KindSession:
		return r.startSession(ctx, ev.Session)
	case publish.KindObject:
		if ev.Object == nil {
			return nil
		}
		if err := r.ensureSession(ctx); err != nil {
			return err
		}
		return r.recordObject(ctx, ev.Seq, *ev.Object)
	case publish.KindModel:
		if err := r.ensureSession(ctx); err != nil {
			return err
		}
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO model_snapshots (session_id, seq, object_count, recorded_at) VALUES (?, ?, ?, ?)`,
			r.session, ev.Seq, len(ev.Model), r.clock.Now().UnixNano())
		return errors.Wrap(err, "insert model snapshot")
	}
	return errors.Newf("unknown event kind %q", ev.Kind)
}

func (r *Recorder) startSession(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session event without id")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, started_at) VALUES (?, ?)`,
		id, r.clock.Now().UnixNano())
	if err != nil {
		return errors.Wrap(err, "insert session")
	}
	r.session = id
	r.db.log.Infow("recording session", "session", id)
	return nil
}

// ensureSession starts a session of our own when events arrive before any
// session announcement.
func (r *Recorder) ensureSession(ctx context.Context) error {
	if r.session != "" {
		return nil
	}
	return r.startSession(ctx, uuid.NewString())
}

func (r *Recorder) recordObject(ctx context.Context, seq uint64, o worldmodel.Object) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return errors.Wrapf(err, "encode %s", o.ID)
	}
	now := r.clock.Now().UnixNano()
	var stamp any
	if !o.Header.Stamp.IsZero() {
		stamp = o.Header.Stamp.UnixNano()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (session_id, object_id, class_id, state, support, x, y, z, frame_id, stamp_ns, object_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, object_id) DO UPDATE SET
			class_id = excluded.class_id,
			state = excluded.state,
			support = excluded.support,
			x = excluded.x, y = excluded.y, z = excluded.z,
			frame_id = excluded.frame_id,
			stamp_ns = excluded.stamp_ns,
			object_json = excluded.object_json,
			updated_at = excluded.updated_at`,
		r.session, o.ID, o.ClassID, string(o.State), o.Support,
		o.Position.X, o.Position.Y, o.Position.Z,
		o.Header.FrameID, stamp, string(raw), now)
	if err != nil {
		return errors.Wrapf(err, "upsert %s", o.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO object_history (session_id, seq, object_id, state, support, x, y, z, stamp_ns, object_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, seq, o.ID, string(o.State), o.Support,
		o.Position.X, o.Position.Y, o.Position.Z, stamp, string(raw), now)
	if err != nil {
		return errors.Wrapf(err, "history of %s", o.ID)
	}
	return errors.Wrap(tx.Commit(), "commit")
}
