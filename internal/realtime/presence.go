// internal/realtime/presence.go
package realtime

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Presence tracks the live connections of each user. It is volatile and
// rebuilt as clients reconnect; notifications never depend on it.
type Presence struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[Conn]struct{}
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[uuid.UUID]map[Conn]struct{})}
}

// Register adds c to the user's set and reports whether it is the user's
// first connection. Registering the same connection twice is a no-op.
func (p *Presence) Register(userID uuid.UUID, c Conn) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		p.conns[userID] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}
	return len(set) == 1
}

// Unregister removes c and reports whether the user has no connections
// left. It returns true at most once per online period.
func (p *Presence) Unregister(userID uuid.UUID, c Conn) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		return false
	}
	if _, found := set[c]; !found {
		return false
	}
	delete(set, c)
	if len(set) > 0 {
		return false
	}
	delete(p.conns, userID)
	return true
}

func (p *Presence) IsOnline(userID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[userID]) > 0
}

// Online lists online users in a stable order.
func (p *Presence) Online() []uuid.UUID {
	p.mu.Lock()
	ids := make([]uuid.UUID, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Conns returns the user's connections.
func (p *Presence) Conns(userID uuid.UUID) []Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[userID]
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
