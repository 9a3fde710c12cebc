package worldmodel

import "github.com/cockroachdb/errors"

var (
	// ErrObjectNotFound is returned when an object id is not in the model.
	ErrObjectNotFound = errors.New("object not found")
	// ErrDuplicateID is returned when adding an object whose id is taken.
	ErrDuplicateID = errors.New("object id already exists")
)
