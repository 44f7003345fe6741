// Package user tracks which users currently have an open connection.
package user

import (
	"sort"
	"sync"

	"github.com/panyam/livekit/session"
)

// RootField is the query field listing connected users.
const RootField = "Query.users"

// User is a connected user.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Connections int    `json:"-"`
}

// Invalidator is told which live query identifiers changed.
type Invalidator interface {
	Invalidate(ids ...string) int
}

// Hooks are called when a user's first connection opens and when their last
// one closes.
type Hooks struct {
	Connected    func(name string)
	Disconnected func(name string)
}

// Presence counts connections per session.
type Presence struct {
	mu    sync.Mutex
	users map[string]*User

	hooks       Hooks
	invalidator Invalidator
}

func NewPresence(hooks Hooks, invalidator Invalidator) *Presence {
	return &Presence{
		users:       make(map[string]*User),
		hooks:       hooks,
		invalidator: invalidator,
	}
}

// Add registers one more connection for rec.
func (p *Presence) Add(rec *session.Record) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	u, ok := p.users[rec.ID]
	if !ok {
		u = &User{ID: rec.ID, Name: rec.Name}
		p.users[rec.ID] = u
	}
	u.Connections++
	first := u.Connections == 1
	p.mu.Unlock()

	if first {
		if p.hooks.Connected != nil {
			p.hooks.Connected(rec.Name)
		}
		p.invalidate()
	}
}

// Remove drops one connection of rec.
func (p *Presence) Remove(rec *session.Record) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	u, ok := p.users[rec.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	u.Connections--
	last := u.Connections <= 0
	if last {
		delete(p.users, rec.ID)
	}
	p.mu.Unlock()

	if last {
		if p.hooks.Disconnected != nil {
			p.hooks.Disconnected(rec.Name)
		}
		p.invalidate()
	}
}

// List returns connected users ordered by name.
func (p *Presence) List() []User {
	p.mu.Lock()
	out := make([]User, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, *u)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (p *Presence) invalidate() {
	if p.invalidator != nil {
		p.invalidator.Invalidate(RootField)
	}
}
