// Package presence tracks the participants of a canvas session.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/revealcanvas/backend/internal/protocol"
)

// Registry maps connection identity to participant metadata.
// A participant exists exactly as long as its connection.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]entry
	seq     uint64
	palette []string
	names   NameGenerator
}

type entry struct {
	p     protocol.Participant
	order uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithPalette overrides the display colours handed out at connect.
func WithPalette(colors []string) Option {
	return func(r *Registry) {
		if len(colors) > 0 {
			r.palette = colors
		}
	}
}

// WithNames overrides the nickname generator.
func WithNames(g NameGenerator) Option {
	return func(r *Registry) {
		if g != nil {
			r.names = g
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:    make(map[string]entry),
		palette: DefaultPalette,
		names:   SequentialNames{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join allocates a participant with a fresh id. Colour and nickname are derived from the join
// sequence and never change afterwards.
func (r *Registry) Join() protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.seq
	r.seq++
	p := protocol.Participant{
		ID:       uuid.New().String(),
		Color:    r.palette[n%uint64(len(r.palette))],
		Nickname: r.names.Name(n),
	}
	r.byID[p.ID] = entry{p: p, order: n}
	return p
}

// Leave releases a participant. It reports false if the id was unknown.
func (r *Registry) Leave(id string) (protocol.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return protocol.Participant{}, false
	}
	delete(r.byID, id)
	return e.p, true
}

// Get returns the participant for id.
func (r *Registry) Get(id string) (protocol.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e.p, ok
}

// List returns all live participants in join order.
func (r *Registry) List() []protocol.Participant {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]protocol.Participant, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

// Len returns the number of live participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
