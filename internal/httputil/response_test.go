package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "cup_1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "cup_1", decodeMap(t, rec)["id"])
}

func TestWriteJSONUnencodable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]any{"bad": func() {}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]string{"error": "none"}) }, http.StatusOK},
		{"error", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusConflict, "conflict") }, http.StatusConflict},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no such object") }, http.StatusNotFound},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.write(rec)
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, decodeMap(t, rec), "error")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		ObjectID string `json:"object_id"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"object_id":"door_3"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), r, &v))
	assert.Equal(t, "door_3", v.ObjectID)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"object_id":`))
	err := DecodeJSON(httptest.NewRecorder(), r, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request body")

	big := `{"object_id":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), r, &v))
}

func TestQueryParams(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/?on=true&n=12&x=0.5&bad=zz", nil)

	on, err := QueryBool(r, "on", false)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = QueryBool(r, "missing", true)
	require.NoError(t, err)
	assert.True(t, on)
	_, err = QueryBool(r, "bad", false)
	assert.True(t, errors.Is(err, ErrBadQuery))

	n, err := QueryInt(r, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, err = QueryInt(r, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = QueryInt(r, "bad", 0)
	assert.True(t, errors.Is(err, ErrBadQuery))

	x, err := QueryFloat(r, "x", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, x, 1e-12)
	_, err = QueryFloat(r, "bad", 0)
	assert.True(t, errors.Is(err, ErrBadQuery))
}
