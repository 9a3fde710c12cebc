package verify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

func TestResponseJSON(t *testing.T) {
	for _, r := range []Response{Unknown, Confirm, Discard, Unreachable} {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		var back Response
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, r, back)
	}

	var r Response
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &r))
	assert.Equal(t, "invalid", Response(42).String())
}

func TestCall(t *testing.T) {
	obj := worldmodel.Object{ID: "victim_1"}

	ok := Func{ServiceName: "thermal", Fn: func(_ context.Context, o worldmodel.Object) (Response, error) {
		assert.Equal(t, "victim_1", o.ID)
		return Confirm, nil
	}}
	r, err := Call(context.Background(), ok, obj)
	require.NoError(t, err)
	assert.Equal(t, Confirm, r)

	failing := Func{ServiceName: "qr", Fn: func(context.Context, worldmodel.Object) (Response, error) {
		return Discard, errors.New("connection refused")
	}}
	r, err = Call(context.Background(), failing, obj)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "qr")
	assert.Equal(t, Unreachable, r)
}
