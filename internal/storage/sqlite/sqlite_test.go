package sqlite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/timeutil"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenAndMigrate(filepath.Join(t.TempDir(), "worldmodel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func cup(id string, x, support float64, state worldmodel.State) worldmodel.Object {
	o := worldmodel.NewObject(worldmodel.StringPtr("cup"), id)
	o.Position = r3.Vec{X: x, Y: 1}
	o.Covariance = geometry.DiagCov3(0.5, 0.5, 0.5)
	o.Support = support
	o.State = state
	o.Header = worldmodel.Header{FrameID: "map", Stamp: time.Unix(1700000000, 0).UTC()}
	return *o
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(), "already current")

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestFreshDatabaseVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	rec := NewRecorder(db, clock)

	first := uuid.NewString()
	events := []publish.Event{
		{Seq: 1, Kind: publish.KindSession, Session: first},
		{Seq: 2, Kind: publish.KindObject, Object: ptr(cup("cup_1", 1, 1, worldmodel.StatePending))},
		{Seq: 3, Kind: publish.KindModel, Model: []worldmodel.Object{cup("cup_1", 1, 1, worldmodel.StatePending)}},
		{Seq: 4, Kind: publish.KindObject, Object: ptr(cup("cup_1", 1.5, 2, worldmodel.StateConfirmed))},
		{Seq: 5, Kind: publish.KindObject, Object: ptr(cup("cup_2", 7, 1, worldmodel.StatePending))},
	}
	for _, ev := range events {
		clock.Advance(time.Second)
		require.NoError(t, rec.Record(ctx, ev))
	}

	objects, err := db.LatestObjects(ctx, first)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "cup_1", objects[0].ID)
	assert.Equal(t, 1.5, objects[0].Position.X)
	assert.Equal(t, 2.0, objects[0].Support)
	assert.Equal(t, worldmodel.StateConfirmed, objects[0].State)
	assert.Equal(t, geometry.DiagCov3(0.5, 0.5, 0.5), objects[0].Covariance)

	history, err := db.ObjectHistory(ctx, first, "cup_1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(2), history[0].Seq)
	assert.Equal(t, 1.0, history[0].Object.Position.X)
	assert.Equal(t, uint64(4), history[1].Seq)

	limited, err := db.ObjectHistory(ctx, first, "cup_1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	var snapshots int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM model_snapshots WHERE session_id = ?`, first).Scan(&snapshots))
	assert.Equal(t, 1, snapshots)

	t.Run("new session after reset", func(t *testing.T) {
		second := uuid.NewString()
		require.NoError(t, rec.Record(ctx, publish.Event{Seq: 6, Kind: publish.KindSession, Session: second}))
		require.NoError(t, rec.Record(ctx, publish.Event{Seq: 7, Kind: publish.KindModel}))
		require.NoError(t, rec.Record(ctx, publish.Event{Seq: 8, Kind: publish.KindObject, Object: ptr(cup("cup_1", 3, 1, worldmodel.StatePending))}))

		objects, err := db.LatestObjects(ctx, second)
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, 3.0, objects[0].Position.X)

		old, err := db.LatestObjects(ctx, first)
		require.NoError(t, err)
		assert.Len(t, old, 2, "previous session untouched")

		sessions, err := db.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, second, sessions[0].ID)
		assert.Equal(t, 1, sessions[0].Objects)
		assert.Equal(t, 2, sessions[1].Objects)
	})

	t.Run("unknown kind", func(t *testing.T) {
		assert.Error(t, rec.Record(ctx, publish.Event{Kind: "bogus"}))
	})
}

func TestRecorderStartsOwnSession(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rec := NewRecorder(db, nil)

	require.NoError(t, rec.Record(ctx, publish.Event{Seq: 1, Kind: publish.KindObject, Object: ptr(cup("cup_1", 1, 1, worldmodel.StatePending))}))
	require.NotEmpty(t, rec.Session())

	objects, err := db.LatestObjects(ctx, rec.Session())
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestRecorderRunFromHub(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, nil)
	hub := publish.NewHub(16)
	_, events := hub.Subscribe()

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background(), events) }()

	session := uuid.New()
	hub.PublishSession(session)
	hub.PublishObject(cup("cup_1", 1, 1, worldmodel.StatePending))
	hub.PublishModel([]worldmodel.Object{cup("cup_1", 1, 1, worldmodel.StatePending)})
	hub.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop after the hub closed")
	}

	objects, err := db.LatestObjects(context.Background(), session.String())
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestAdminHandlers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rec := NewRecorder(db, nil)
	session := uuid.NewString()
	require.NoError(t, rec.Record(ctx, publish.Event{Seq: 1, Kind: publish.KindSession, Session: session}))
	require.NoError(t, rec.Record(ctx, publish.Event{Seq: 2, Kind: publish.KindObject, Object: ptr(cup("cup_1", 1, 1, worldmodel.StatePending))}))

	t.Run("sessions", func(t *testing.T) {
		w := httptest.NewRecorder()
		db.handleSessions(w, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var out []Session
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		require.Len(t, out, 1)
		assert.Equal(t, session, out[0].ID)
	})

	t.Run("objects default to newest session", func(t *testing.T) {
		w := httptest.NewRecorder()
		db.handleObjects(w, httptest.NewRequest(http.MethodGet, "/debug/objects", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var out struct {
			Session string              `json:"session"`
			Objects []worldmodel.Object `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		assert.Equal(t, session, out.Session)
		assert.Len(t, out.Objects, 1)
	})

	t.Run("history", func(t *testing.T) {
		w := httptest.NewRecorder()
		db.handleHistory(w, httptest.NewRequest(http.MethodGet, "/debug/history?object=cup_1&limit=5", nil))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		db.handleHistory(w, httptest.NewRequest(http.MethodGet, "/debug/history", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		db.handleHistory(w, httptest.NewRequest(http.MethodGet, "/debug/history?object=cup_1&limit=x", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("routes registered", func(t *testing.T) {
		mux := http.NewServeMux()
		require.NoError(t, db.AttachAdminRoutes(mux))
		for _, path := range []string{"/debug/sessions", "/debug/objects", "/debug/history", "/debug/tailsql/"} {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.NotEqual(t, http.StatusNotFound, w.Code, path)
		}
	})
}

func ptr[T any](v T) *T { return &v }
