// Package transform keeps the tree of coordinate frames the service can
// resolve. Each frame has one parent; links carry timestamped samples that
// are interpolated on lookup and pruned once they fall out of the cache
// window.
package transform

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/banshee-data/worldmodel/internal/geometry"
	"github.com/banshee-data/worldmodel/internal/monitoring"
)

var (
	// ErrUnknownFrame is returned when a frame was never published.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrNotConnected is returned when two frames live in separate trees.
	ErrNotConnected = errors.New("frames are not connected")
	// ErrExtrapolation is returned when the requested stamp lies outside
	// the buffered samples of a link.
	ErrExtrapolation = errors.New("lookup would require extrapolation")
	// ErrInvalidTransform is returned by Set for malformed links.
	ErrInvalidTransform = errors.New("invalid transform")
)

// Stamped is a link of the frame tree: Transform maps points expressed in
// Child into Parent at Stamp. Static links are valid at any time.
type Stamped struct {
	Parent    string
	Child     string
	Stamp     time.Time
	Transform geometry.Transform
	Static    bool
}

type sample struct {
	stamp time.Time
	tf    geometry.Transform
}

// link is the history of one child frame, oldest sample first.
type link struct {
	parent  string
	static  bool
	samples []sample
}

func (l *link) newest() time.Time { return l.samples[len(l.samples)-1].stamp }

// at returns the link transform at stamp. A zero stamp means the newest
// sample.
func (l *link) at(stamp time.Time) (geometry.Transform, error) {
	if l.static || stamp.IsZero() {
		return l.samples[len(l.samples)-1].tf, nil
	}
	first, last := l.samples[0], l.samples[len(l.samples)-1]
	if stamp.Before(first.stamp) || stamp.After(last.stamp) {
		return geometry.Transform{}, errors.Wrapf(ErrExtrapolation,
			"stamp %s outside [%s, %s]", stamp.Format(time.RFC3339Nano),
			first.stamp.Format(time.RFC3339Nano), last.stamp.Format(time.RFC3339Nano))
	}
	i := sort.Search(len(l.samples), func(i int) bool { return !l.samples[i].stamp.Before(stamp) })
	hi := l.samples[i]
	if hi.stamp.Equal(stamp) || i == 0 {
		return hi.tf, nil
	}
	lo := l.samples[i-1]
	ratio := float64(stamp.Sub(lo.stamp)) / float64(hi.stamp.Sub(lo.stamp))
	return geometry.Interpolate(lo.tf, hi.tf, ratio), nil
}

// Buffer stores the frame tree and answers transform lookups. It satisfies
// projector.TransformProvider.
type Buffer struct {
	log *zap.SugaredLogger

	mu            sync.Mutex
	links         map[string]*link // by child frame
	cacheDuration time.Duration
	wait          time.Duration
	changed       chan struct{} // closed and replaced on every Set
}

// NewBuffer creates an empty buffer keeping cacheDuration of history per
// link. Lookups wait up to wait for missing data.
func NewBuffer(cacheDuration, wait time.Duration) *Buffer {
	return &Buffer{
		log:           monitoring.Named("transform"),
		links:         make(map[string]*link),
		cacheDuration: cacheDuration,
		wait:          wait,
		changed:       make(chan struct{}),
	}
}

// SetDurations updates the cache window and lookup wait.
func (b *Buffer) SetDurations(cacheDuration, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cacheDuration = cacheDuration
	b.wait = wait
}

// Set inserts a link sample. Publishing a frame under a new parent replaces
// its history.
func (b *Buffer) Set(st Stamped) error {
	if st.Parent == "" || st.Child == "" {
		return errors.Wrap(ErrInvalidTransform, "empty frame id")
	}
	if st.Parent == st.Child {
		return errors.Wrapf(ErrInvalidTransform, "frame %q is its own parent", st.Child)
	}
	if !st.Static && st.Stamp.IsZero() {
		return errors.Wrapf(ErrInvalidTransform, "%s -> %s has no stamp", st.Parent, st.Child)
	}
	st.Transform.Rotation = geometry.Normalize(st.Transform.Rotation)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.createsCycleLocked(st.Parent, st.Child) {
		return errors.Wrapf(ErrInvalidTransform, "%s -> %s would create a cycle", st.Parent, st.Child)
	}

	l, ok := b.links[st.Child]
	if !ok || l.parent != st.Parent || l.static != st.Static {
		if ok {
			b.log.Infow("frame re-parented", "frame", st.Child, "old_parent", l.parent, "parent", st.Parent)
		}
		l = &link{parent: st.Parent, static: st.Static}
		b.links[st.Child] = l
	}

	s := sample{stamp: st.Stamp, tf: st.Transform}
	switch {
	case l.static:
		l.samples = []sample{s}
	default:
		i := sort.Search(len(l.samples), func(i int) bool { return !l.samples[i].stamp.Before(s.stamp) })
		if i < len(l.samples) && l.samples[i].stamp.Equal(s.stamp) {
			l.samples[i] = s
		} else {
			l.samples = slices.Insert(l.samples, i, s)
		}
		b.pruneLocked(l)
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// pruneLocked drops samples older than the cache window, keeping at least
// one.
func (b *Buffer) pruneLocked(l *link) {
	if b.cacheDuration <= 0 {
		return
	}
	cutoff := l.newest().Add(-b.cacheDuration)
	i := sort.Search(len(l.samples), func(i int) bool { return !l.samples[i].stamp.Before(cutoff) })
	if i >= len(l.samples) {
		i = len(l.samples) - 1
	}
	if i > 0 {
		l.samples = slices.Delete(l.samples, 0, i)
	}
}

func (b *Buffer) createsCycleLocked(parent, child string) bool {
	for f := parent; ; {
		if f == child {
			return true
		}
		l, ok := b.links[f]
		if !ok {
			return false
		}
		f = l.parent
	}
}

// LookupTransform returns the transform mapping points in source into
// target at stamp. A zero stamp asks for the latest time every link on the
// path has data for. Missing data is waited for until the buffer's wait
// duration elapses or ctx ends.
func (b *Buffer) LookupTransform(ctx context.Context, target, source string, stamp time.Time) (geometry.Transform, error) {
	b.mu.Lock()
	wait := b.wait
	b.mu.Unlock()

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		tf, err := b.lookupLocked(target, source, stamp)
		changed := b.changed
		b.mu.Unlock()
		if err == nil || deadline == nil {
			return tf, err
		}

		select {
		case <-changed:
		case <-deadline:
			return geometry.Transform{}, errors.Wrapf(err, "after waiting %s", wait)
		case <-ctx.Done():
			return geometry.Transform{}, errors.Wrapf(err, "lookup cancelled: %v", ctx.Err())
		}
	}
}

// CanTransform reports whether a lookup would succeed right now.
func (b *Buffer) CanTransform(target, source string, stamp time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.lookupLocked(target, source, stamp)
	return err == nil
}

func (b *Buffer) lookupLocked(target, source string, stamp time.Time) (geometry.Transform, error) {
	if target == source {
		return geometry.IdentityTransform(), nil
	}
	for _, f := range []string{source, target} {
		if !b.knownLocked(f) {
			return geometry.Transform{}, errors.Wrapf(ErrUnknownFrame, "%q", f)
		}
	}
	up := b.pathToRootLocked(source)
	down := b.pathToRootLocked(target)

	// trim the shared tail so both paths end at the closest common ancestor
	i, j := len(up)-1, len(down)-1
	if up[i] != down[j] {
		return geometry.Transform{}, errors.Wrapf(ErrNotConnected, "%q and %q", source, target)
	}
	for i > 0 && j > 0 && up[i-1] == down[j-1] {
		i--
		j--
	}
	up, down = up[:i+1], down[:j+1]

	if stamp.IsZero() {
		stamp = b.latestCommonLocked(up, down)
	}

	fromSource, err := b.chainLocked(up, stamp)
	if err != nil {
		return geometry.Transform{}, err
	}
	fromTarget, err := b.chainLocked(down, stamp)
	if err != nil {
		return geometry.Transform{}, err
	}
	return fromTarget.Inverse().Compose(fromSource), nil
}

func (b *Buffer) knownLocked(frame string) bool {
	if _, ok := b.links[frame]; ok {
		return true
	}
	for _, l := range b.links {
		if l.parent == frame {
			return true
		}
	}
	return false
}

// pathToRootLocked lists frame, its parent, and so on up to the root.
func (b *Buffer) pathToRootLocked(frame string) []string {
	path := []string{frame}
	for {
		l, ok := b.links[path[len(path)-1]]
		if !ok {
			return path
		}
		path = append(path, l.parent)
	}
}

// chainLocked composes the links from path[0] up to the last element.
func (b *Buffer) chainLocked(path []string, stamp time.Time) (geometry.Transform, error) {
	out := geometry.IdentityTransform()
	for _, f := range path[:len(path)-1] {
		tf, err := b.links[f].at(stamp)
		if err != nil {
			return geometry.Transform{}, errors.Wrapf(err, "%s -> %s", f, b.links[f].parent)
		}
		out = tf.Compose(out)
	}
	return out, nil
}

// latestCommonLocked returns the newest stamp available on every dynamic
// link of both paths, or the zero time when all links are static.
func (b *Buffer) latestCommonLocked(paths ...[]string) time.Time {
	var latest time.Time
	for _, path := range paths {
		for _, f := range path[:len(path)-1] {
			l := b.links[f]
			if l.static {
				continue
			}
			if n := l.newest(); latest.IsZero() || n.Before(latest) {
				latest = n
			}
		}
	}
	return latest
}

// Frames returns the parent of every known frame.
func (b *Buffer) Frames() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.links))
	for child, l := range b.links {
		out[child] = l.parent
	}
	return out
}
