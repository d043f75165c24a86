package playback

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/instasplit/instasplit-agent/internal/logging"
)

var ErrUnknownPlayer = errors.New("unknown player")

// Pauser is anything that can be told to stop playing.
type Pauser interface {
	Pause() error
}

// PauserFunc adapts a function to Pauser.
type PauserFunc func() error

func (f PauserFunc) Pause() error { return f() }

// Activation is delivered to subscribers whenever a player becomes active.
type Activation struct {
	Active string   `json:"active"`
	Paused []string `json:"paused"`
}

// Registry keeps track of preview players so that starting one pauses all
// the others.
type Registry struct {
	mu      sync.Mutex
	players map[string]Pauser
	active  string
	subs    map[int]func(Activation)
	nextSub int
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		players: make(map[string]Pauser),
		subs:    make(map[int]func(Activation)),
		logger:  logging.WithComponent(logger, "players"),
	}
}

// Register adds or replaces a player.
func (r *Registry) Register(id string, p Pauser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[id] = p
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
	if r.active == id {
		r.active = ""
	}
}

// Activate marks id as playing and pauses every other registered player.
// It returns the ids that were paused, sorted.
func (r *Registry) Activate(id string) ([]string, error) {
	r.mu.Lock()
	if _, ok := r.players[id]; !ok {
		r.mu.Unlock()
		return nil, ErrUnknownPlayer
	}
	r.active = id
	others := make(map[string]Pauser, len(r.players)-1)
	for pid, p := range r.players {
		if pid != id {
			others[pid] = p
		}
	}
	subs := make([]func(Activation), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	paused := make([]string, 0, len(others))
	for pid, p := range others {
		if err := p.Pause(); err != nil {
			r.logger.Warn("failed to pause player", "player_id", pid, "error", err)
			continue
		}
		paused = append(paused, pid)
	}
	slices.Sort(paused)

	ev := Activation{Active: id, Paused: paused}
	for _, fn := range subs {
		fn(ev)
	}
	return paused, nil
}

// Active returns the id of the player last activated, or "".
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Subscribe registers fn for activations. The returned function removes it.
func (r *Registry) Subscribe(fn func(Activation)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Reset drops every player.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.players)
	r.active = ""
}
