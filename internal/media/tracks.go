package media

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Tracks is the registry of live tracks created by a runtime. A track is
// listed from creation until Stop.
type Tracks struct {
	mu   sync.Mutex
	live map[string]Track
}

func NewTracks() *Tracks {
	return &Tracks{live: make(map[string]Track)}
}

func (t *Tracks) add(tr Track) {
	t.mu.Lock()
	t.live[tr.ID()] = tr
	t.mu.Unlock()
}

func (t *Tracks) remove(id string) {
	t.mu.Lock()
	delete(t.live, id)
	t.mu.Unlock()
}

// Active lists live tracks ordered by id.
func (t *Tracks) Active() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, 0, len(t.live))
	for _, tr := range t.live {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// baseTrack implements the bookkeeping shared by every track type.
type baseTrack struct {
	id       string
	kind     TrackKind
	registry *Tracks
	stopped  atomic.Bool
	once     sync.Once
	onStop   func()
}

func newBaseTrack(kind TrackKind, registry *Tracks, onStop func()) *baseTrack {
	return &baseTrack{
		id:       uuid.NewString(),
		kind:     kind,
		registry: registry,
		onStop:   onStop,
	}
}

func (b *baseTrack) ID() string      { return b.id }
func (b *baseTrack) Kind() TrackKind { return b.kind }
func (b *baseTrack) Live() bool      { return !b.stopped.Load() }

func (b *baseTrack) Stop() {
	b.once.Do(func() {
		b.stopped.Store(true)
		if b.onStop != nil {
			b.onStop()
		}
		if b.registry != nil {
			b.registry.remove(b.id)
		}
	})
}
