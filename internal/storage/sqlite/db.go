// Package sqlite records published object models in a SQLite database: the
// latest state of every object per session plus the history of updates.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// DB is the recorder database.
type DB struct {
	*sql.DB
	path string
	log  *zap.SugaredLogger
}

// Open opens (creating if needed) the database at path. Call MigrateUp
// before recording.
func Open(path string) (*DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", path)
	}
	return &DB{DB: db, path: path, log: monitoring.Named("recorder")}, nil
}

// OpenAndMigrate opens the database and applies every pending migration.
func OpenAndMigrate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp runs all pending migrations. Being current is not an error.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close db.DB as well
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration down failed")
	}
	return nil
}

// MigrateVersion returns the applied schema version and whether the last
// migration failed half way. A fresh database reports version 0.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "migration source")
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, errors.Wrap(err, "migrate instance")
	}
	m.Log = &migrateLogger{log: db.log}
	return m, nil
}

type migrateLogger struct{ log *zap.SugaredLogger }

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Infof("[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Session is one model epoch.
type Session struct {
	ID        string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Objects   int       `json:"objects"`
}

// HistoryEntry is one recorded update of an object.
type HistoryEntry struct {
	Seq        uint64            `json:"seq"`
	RecordedAt time.Time         `json:"recorded_at"`
	Object     worldmodel.Object `json:"object"`
}

// Sessions lists recorded sessions, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, COUNT(o.object_id)
		FROM sessions s
		LEFT JOIN objects o ON o.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
		)
		if err := rows.Scan(&s.ID, &started, &s.Objects); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		s.StartedAt = time.Unix(0, started).UTC()
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate sessions")
}

// LatestObjects returns the last recorded state of every object of a
// session in object id order.
func (db *DB) LatestObjects(ctx context.Context, session string) ([]worldmodel.Object, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT object_json FROM objects WHERE session_id = ? ORDER BY object_id`, session)
	if err != nil {
		return nil, errors.Wrap(err, "query objects")
	}
	defer rows.Close()

	var out []worldmodel.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate objects")
}

// ObjectHistory returns up to limit recorded updates of one object, oldest
// first. A non-positive limit returns everything.
func (db *DB) ObjectHistory(ctx context.Context, session, objectID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT seq, recorded_at, object_json FROM object_history
		WHERE session_id = ? AND object_id = ?
		ORDER BY seq
		LIMIT ?`, session, objectID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query object history")
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			recorded int64
			raw      string
		)
		if err := rows.Scan(&e.Seq, &recorded, &raw); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		if err := json.Unmarshal([]byte(raw), &e.Object); err != nil {
			return nil, errors.Wrap(err, "decode object")
		}
		e.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

func scanObject(rows *sql.Rows) (worldmodel.Object, error) {
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return worldmodel.Object{}, errors.Wrap(err, "scan object")
	}
	var o worldmodel.Object
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return worldmodel.Object{}, errors.Wrap(err, "decode object")
	}
	return o, nil
}
