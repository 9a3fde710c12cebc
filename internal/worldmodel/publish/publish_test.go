package publish

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(4)
	defer h.Close()

	id1, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	h.PublishObject(worldmodel.Object{ID: "cup_1"})
	h.PublishModel([]worldmodel.Object{{ID: "cup_1"}, {ID: "cup_2"}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, KindObject, ev.Kind)
		require.NotNil(t, ev.Object)
		assert.Equal(t, "cup_1", ev.Object.ID)

		ev2 := <-ch
		assert.Equal(t, KindModel, ev2.Kind)
		assert.Len(t, ev2.Model, 2)
		assert.Greater(t, ev2.Seq, ev.Seq)
	}
	assert.Len(t, h.Latest(), 2)

	h.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribe closes the channel")
	assert.Equal(t, 1, h.Subscribers())

	h.Unsubscribe("nope")
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(1)
	defer h.Close()

	_, ch := h.Subscribe()
	for i := 0; i < 5; i++ {
		h.PublishModel(nil)
	}
	assert.Equal(t, uint64(4), h.Dropped())
	ev := <-ch
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestHubClose(t *testing.T) {
	h := NewHub(1)
	_, ch := h.Subscribe()
	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	h.PublishObject(worldmodel.Object{})
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestHubConcurrentPublish(t *testing.T) {
	h := NewHub(1000)
	defer h.Close()
	_, ch := h.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.PublishObject(worldmodel.Object{ID: "x"})
			}
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < 500; i++ {
		ev := <-ch
		assert.Greater(t, ev.Seq, last, "sequence numbers arrive in order")
		last = ev.Seq
	}
}

type recorder struct {
	objects []string
	models  int
}

func (r *recorder) PublishObject(o worldmodel.Object) { r.objects = append(r.objects, o.ID) }
func (r *recorder) PublishModel([]worldmodel.Object) { r.models++ }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, Nop{}, b}
	m.PublishObject(worldmodel.Object{ID: "cup_1"})
	m.PublishModel(nil)

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, []string{"cup_1"}, r.objects)
		assert.Equal(t, 1, r.models)
	}
}

func TestHubSession(t *testing.T) {
	h := NewHub(4)
	defer h.Close()
	_, ch := h.Subscribe()

	h.PublishModel([]worldmodel.Object{{ID: "cup_1"}})
	id := uuid.New()
	Multi{Nop{}, h}.PublishSession(id)

	<-ch
	ev := <-ch
	assert.Equal(t, KindSession, ev.Kind)
	assert.Equal(t, id.String(), ev.Session)
	assert.Equal(t, id.String(), h.Session())
	assert.Empty(t, h.Latest(), "a new session starts without objects")
}
