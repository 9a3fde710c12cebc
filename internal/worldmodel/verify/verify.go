// Package verify defines the contract for external services that confirm or
// reject tracked objects.
package verify

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// Response is the closed set of verification outcomes.
type Response int

const (
	// Unknown means the service cannot judge the object at the moment.
	Unknown Response = iota
	// Confirm means the object is real; it earns a support bonus.
	Confirm
	// Discard means the object is not what it was believed to be.
	Discard
	// Unreachable means the service could not be asked. It has no effect.
	Unreachable
)

var responseNames = [...]string{
	Unknown:     "unknown",
	Confirm:     "confirm",
	Discard:     "discard",
	Unreachable: "unreachable",
}

func (r Response) String() string {
	if r < 0 || int(r) >= len(responseNames) {
		return "invalid"
	}
	return responseNames[r]
}

// ParseResponse parses a response name.
func ParseResponse(s string) (Response, error) {
	for i, n := range responseNames {
		if n == s {
			return Response(i), nil
		}
	}
	return Unknown, errors.Newf("unknown verification response %q", s)
}

// MarshalJSON encodes the response by name.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a response name.
func (r *Response) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseResponse(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Verifier judges a snapshot of a tracked object. A returned error is
// treated as Unreachable.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, obj worldmodel.Object) (Response, error)
}

// Func adapts a function to a Verifier.
type Func struct {
	ServiceName string
	Fn          func(ctx context.Context, obj worldmodel.Object) (Response, error)
}

// Name returns the service name.
func (f Func) Name() string { return f.ServiceName }

// Verify calls Fn.
func (f Func) Verify(ctx context.Context, obj worldmodel.Object) (Response, error) {
	return f.Fn(ctx, obj)
}

// Call asks v and folds errors into Unreachable.
func Call(ctx context.Context, v Verifier, obj worldmodel.Object) (Response, error) {
	r, err := v.Verify(ctx, obj)
	if err != nil {
		return Unreachable, errors.Wrapf(err, "verify %s with %s", obj.ID, v.Name())
	}
	return r, nil
}
