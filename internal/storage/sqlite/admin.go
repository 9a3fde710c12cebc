package sqlite

import (
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/worldmodel/internal/httputil"
)

// AttachAdminRoutes mounts the recorder's debug pages on mux under /debug/:
// a tailsql console plus JSON views of sessions, objects and history.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return err
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "World model recorder",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("sessions", "Recorded model sessions", http.HandlerFunc(db.handleSessions))
	debug.Handle("objects", "Latest objects of a session (?session=)", http.HandlerFunc(db.handleObjects))
	debug.Handle("history", "Update history of an object (?session=&object=&limit=)", http.HandlerFunc(db.handleHistory))
	return nil
}

func (db *DB) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := db.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionParam returns the requested session, defaulting to the newest.
func (db *DB) sessionParam(r *http.Request) (string, error) {
	if s := r.URL.Query().Get("session"); s != "" {
		return s, nil
	}
	sessions, err := db.Sessions(r.Context())
	if err != nil || len(sessions) == 0 {
		return "", err
	}
	return sessions[0].ID, nil
}

func (db *DB) handleObjects(w http.ResponseWriter, r *http.Request) {
	session, err := db.sessionParam(r)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	objects, err := db.LatestObjects(r.Context(), session)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"session": session, "objects": objects})
}

func (db *DB) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	object := q.Get("object")
	if object == "" {
		httputil.BadRequest(w, "missing object")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	session, err := db.sessionParam(r)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	history, err := db.ObjectHistory(r.Context(), session, object, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"session": session, "object": object, "history": history})
}
