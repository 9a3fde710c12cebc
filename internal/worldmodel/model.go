package worldmodel

import (
	"fmt"
	"iter"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const unclassifiedPrefix = "object"

// Model is the insertion-ordered store of tracked objects, unique by id.
//
// Model methods do not lock. Callers hold the lock (Lock/Unlock or
// WithLock) across each read-modify-write sequence, including pure
// iteration, so no cycle observes another cycle half-way through.
type Model struct {
	mu sync.Mutex

	objects  []*Object
	index    map[string]*Object
	counters map[string]int
	session  uuid.UUID
}

// NewModel creates an empty model with a fresh session id.
func NewModel() *Model {
	return &Model{
		index:    make(map[string]*Object),
		counters: make(map[string]int),
		session:  uuid.New(),
	}
}

// Lock acquires the model's exclusive lock.
func (m *Model) Lock() { m.mu.Lock() }

// Unlock releases the model's exclusive lock.
func (m *Model) Unlock() { m.mu.Unlock() }

// WithLock runs fn while holding the lock and releases it on every exit
// path, including panics.
func (m *Model) WithLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// All iterates objects in insertion order.
func (m *Model) All() iter.Seq[*Object] {
	return func(yield func(*Object) bool) {
		for _, o := range m.objects {
			if !yield(o) {
				return
			}
		}
	}
}

// Get looks up an object by id.
func (m *Model) Get(id string) (*Object, bool) {
	o, ok := m.index[id]
	return o, ok
}

// Len returns the number of objects.
func (m *Model) Len() int { return len(m.objects) }

// Session identifies the current model epoch; it changes on every Reset.
// The model lock must be held.
func (m *Model) Session() uuid.UUID { return m.session }

// Add creates a pending object of the given class. An empty id is replaced
// by an automatically assigned one; a taken id returns ErrDuplicateID.
func (m *Model) Add(classID *string, id string) (*Object, error) {
	o := NewObject(classID, id)
	if err := m.AddObject(o); err != nil {
		return nil, err
	}
	return o, nil
}

// AddObject inserts a pre-built object, assigning an id if it has none.
func (m *Model) AddObject(o *Object) error {
	if o.ID == "" {
		o.ID = m.nextID(o.ClassID)
	} else if _, taken := m.index[o.ID]; taken {
		return errors.Wrapf(ErrDuplicateID, "add %s", o.ID)
	}
	if o.State == "" {
		o.State = StatePending
	}
	m.objects = append(m.objects, o)
	m.index[o.ID] = o
	return nil
}

// nextID returns "<class>_<n>" with the next free n for that class.
func (m *Model) nextID(classID *string) string {
	prefix := unclassifiedPrefix
	if classID != nil && *classID != "" {
		prefix = *classID
	}
	for {
		m.counters[prefix]++
		id := fmt.Sprintf("%s_%d", prefix, m.counters[prefix])
		if _, taken := m.index[id]; !taken {
			return id
		}
	}
}

// Reset empties the model, restarts id numbering and begins a new session.
func (m *Model) Reset() {
	m.objects = nil
	m.index = make(map[string]*Object)
	m.counters = make(map[string]int)
	m.session = uuid.New()
}

// Snapshot returns deep copies of all objects in insertion order.
func (m *Model) Snapshot() []Object {
	out := make([]Object, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, o.Clone())
	}
	return out
}
