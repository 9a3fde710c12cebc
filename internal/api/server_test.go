package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/transform"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
	"github.com/banshee-data/worldmodel/internal/worldmodel/viz"
)

type fixture struct {
	server     *Server
	mux        *http.ServeMux
	tracker    *tracker.Tracker
	hub        *publish.Hub
	transforms *transform.Buffer
	debug      *tracker.DebugLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := publish.NewHub(64)
	t.Cleanup(hub.Close)
	drawings := viz.NewDrawings(nil)
	buf := transform.NewBuffer(10*time.Second, 0)
	debug := tracker.NewDebugLog(16)

	tr := tracker.New(
		tracker.ConfigFrom(config.Empty()),
		projector.New(projector.SettingsFromConfig(config.Empty()), buf, nil),
		tracker.WithPublisher(publish.Multi{hub, drawings}),
		tracker.WithLogger(zap.NewNop().Sugar()),
	)
	tr.DebugCollector = debug

	s := NewServer(tr, Options{Hub: hub, Transforms: buf, Drawings: drawings, Debug: debug})
	s.log = zap.NewNop().Sugar()
	return &fixture{server: s, mux: s.ServeMux(), tracker: tr, hub: hub, transforms: buf, debug: debug}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func percept(class string, x float64) string {
	p := worldmodel.PosePercept{
		Header: worldmodel.Header{FrameID: "map", Stamp: time.Unix(1000, 0)},
		Info:   worldmodel.Info{ClassID: worldmodel.StringPtr(class), ClassSupport: 1},
		Pose: worldmodel.PoseWithCovariance{
			Pose: worldmodel.Pose{
				Position:    worldmodel.Point{X: x},
				Orientation: worldmodel.Quaternion{W: 1},
			},
			Covariance: geometry.DiagCov3(1, 1, 1).Embed6(),
		},
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func TestObjectRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[tracker.Result](t, w)
	assert.Equal(t, tracker.ActionCreated, res.Action)
	assert.Equal(t, "cup_1", res.ObjectID)

	w = f.do(t, http.MethodPost, "/api/percepts/pose", percept("door", 20))
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/objects", "")
		require.Equal(t, http.StatusOK, w.Code)
		model := decodeBody[objectModel](t, w)
		assert.Len(t, model.Objects, 2)
		session, _ := f.tracker.ModelSnapshot()
		assert.Equal(t, session.String(), model.Session)

		w = f.do(t, http.MethodGet, "/api/objects?class=door", "")
		model = decodeBody[objectModel](t, w)
		require.Len(t, model.Objects, 1)
		assert.Equal(t, "door_1", model.Objects[0].ID)

		w = f.do(t, http.MethodGet, "/api/objects?class=chair", "")
		assert.JSONEq(t, `[]`, mustField(t, w.Body.Bytes(), "objects"))
	})

	t.Run("get", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/objects/cup_1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "cup_1", decodeBody[worldmodel.Object](t, w).ID)

		w = f.do(t, http.MethodGet, "/api/objects/cup_9", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("set state", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/objects/cup_1/state", `{"state":"locked"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, worldmodel.StateLocked, decodeBody[worldmodel.Object](t, w).State)

		w = f.do(t, http.MethodPut, "/api/objects/cup_1/state", `{"state":"melted"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, http.MethodPut, "/api/objects/cup_1/state", `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, http.MethodPut, "/api/objects/cup_7/state", `{"state":"confirmed"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("add", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/objects",
			`{"object":{"id":"box_3","class_id":"box","pose":{"position":{"x":1,"y":2,"z":0},"orientation":{"w":1}},"state":"confirmed","support":5}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		o := decodeBody[worldmodel.Object](t, w)
		assert.Equal(t, "box_3", o.ID)
		assert.Equal(t, worldmodel.StateConfirmed, o.State)

		w = f.do(t, http.MethodPost, "/api/objects",
			`{"object":{"header":{"frame_id":"nowhere"},"class_id":"box"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown frame", func(t *testing.T) {
		body := strings.Replace(percept("cup", 1), `"frame_id":"map"`, `"frame_id":"camera"`, 1)
		w := f.do(t, http.MethodPost, "/api/percepts/pose", body)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("image without calibration", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/percepts/image", `{"header":{"frame_id":"camera"},"info":{"class_id":"cup","class_support":1}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/api/objects", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func mustField(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}

func TestSysCommand(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))

	w := f.do(t, http.MethodPost, "/api/syscommand", `{"data":"shutdown"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"handled":false}`, w.Body.String())
	assert.Len(t, f.tracker.GetObjectModel(), 1)

	w = f.do(t, http.MethodPost, "/api/syscommand", `{"data":"reset"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"handled":true}`, w.Body.String())
	assert.Empty(t, f.tracker.GetObjectModel())
}

func TestListObjectsDuringReset(t *testing.T) {
	f := newFixture(t)

	const rounds = 300
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			f.do(t, http.MethodPost, "/api/syscommand", `{"data":"reset"}`)
			f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))
		}
	}()

	sessions := make(chan objectModel, rounds)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			w := f.do(t, http.MethodGet, "/api/objects", "")
			if !assert.Equal(t, http.StatusOK, w.Code) {
				return
			}
			var m objectModel
			if assert.NoError(t, json.NewDecoder(w.Body).Decode(&m)) {
				sessions <- m
			}
		}
	}()
	wg.Wait()
	close(sessions)

	populated := map[string]bool{}
	for m := range sessions {
		for _, o := range m.Objects {
			assert.Equal(t, "cup_1", o.ID)
		}
		if len(m.Objects) > 0 {
			populated[m.Session] = true
		} else {
			assert.False(t, populated[m.Session], "session %s listed empty after holding objects", m.Session)
		}
	}

	session, objects := f.tracker.ModelSnapshot()
	require.Len(t, objects, 1)
	w := f.do(t, http.MethodGet, "/api/objects", "")
	assert.Equal(t, session.String(), decodeBody[objectModel](t, w).Session)
}

func TestOdometryAndFrames(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/odometry",
		`{"header":{"frame_id":"odom","stamp":"2024-03-01T10:00:00Z"},"pose":{"position":{"x":1,"y":2,"z":0},"orientation":{"w":1}}}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/frames", "")
	require.Equal(t, http.StatusOK, w.Code)
	frames := decodeBody[map[string]string](t, w)
	assert.Equal(t, "odom", frames["base_footprint"])
	assert.Equal(t, "base_footprint", frames["base_stabilized"])
	assert.Equal(t, "base_stabilized", frames["base_link"])

	w = f.do(t, http.MethodPost, "/api/odometry", `{"pose":{"orientation":{"w":1}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	t.Run("frame ids follow config", func(t *testing.T) {
		footprint := ""
		f.server.SetConfig(&config.Config{FootprintFrameID: &footprint})
		w := f.do(t, http.MethodPost, "/api/odometry",
			`{"header":{"frame_id":"world","stamp":"2024-03-01T10:00:00Z"},"child_frame_id":"robot","pose":{"orientation":{"w":1}}}`)
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
		frames := f.transforms.Frames()
		assert.Equal(t, "base_stabilized", frames["robot"])
	})
}

func TestDebugRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/debug/associations?enabled=yes-please", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/debug/associations?enabled=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.debug.IsEnabled())

	f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))
	f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2.2))

	w = f.do(t, http.MethodGet, "/api/debug/associations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Enabled  bool                   `json:"enabled"`
		Snapshot tracker.DebugSnapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.True(t, out.Enabled)
	require.NotEmpty(t, out.Snapshot.Associations)
	assert.Equal(t, "cup_1", out.Snapshot.Associations[0].ObjectID)

	w = f.do(t, http.MethodDelete, "/api/debug/associations", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.debug.Snapshot().Associations)
}

func TestVizRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))

	w := f.do(t, http.MethodGet, "/viz/markers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Markers []viz.Marker `json:"markers"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out.Markers, 1)
	assert.Equal(t, "cup_1", out.Markers[0].ObjectID)

	w = f.do(t, http.MethodGet, "/viz/chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = f.do(t, http.MethodGet, "/viz/plot?size=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestConfigRoute(t *testing.T) {
	f := newFixture(t)
	frame := "odom"
	f.server.SetConfig(&config.Config{FrameID: &frame})

	w := f.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"odom"`, mustField(t, w.Body.Bytes(), "frame_id"))
}

func TestOptionalRoutesAbsent(t *testing.T) {
	tr := tracker.New(tracker.ConfigFrom(config.Empty()),
		projector.New(projector.SettingsFromConfig(config.Empty()), nil, nil),
		tracker.WithLogger(zap.NewNop().Sugar()))
	mux := NewServer(tr, Options{}).ServeMux()

	for _, path := range []string{"/api/frames", "/api/debug/associations", "/viz/markers", "/api/stream"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/percepts/pose", percept("cup", 2))

	srv := httptest.NewServer(LoggingMiddleware(zap.NewNop().Sugar(), f.mux))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap publish.Event
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, publish.KindModel, snap.Kind)
	require.Len(t, snap.Model, 1)

	f.do(t, http.MethodPost, "/api/percepts/pose", percept("door", 30))

	var ev publish.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, publish.KindObject, ev.Kind)
	assert.Equal(t, "door_1", ev.Object.ID)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, publish.KindModel, ev.Kind)
	assert.Len(t, ev.Model, 2)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
