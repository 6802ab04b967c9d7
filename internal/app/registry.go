package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

type connEntry struct {
	User        domain.Identity
	Signal      core.SignalConnection
	ConnectedAt time.Time
	LastSeen    time.Time
}

type userEntry struct {
	Identity domain.Identity
	Conns    map[core.ConnID]struct{}
	LastSeen time.Time
}

// Registry is the session registry: identity -> live connections and the
// reverse connection -> identity index. Both maps change under one lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	users map[domain.UserID]*userEntry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		users: make(map[domain.UserID]*userEntry),
		now:   time.Now,
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register binds cid to id. wentOnline is true only for the identity's
// first connection.
func (r *Registry) Register(id domain.Identity, cid core.ConnID, sig core.SignalConnection) (wentOnline bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[cid]; ok {
		return false, fmt.Errorf("%w: %s", ErrAlreadyRegistered, cid)
	}
	now := r.now()
	r.conns[cid] = &connEntry{User: id, Signal: sig, ConnectedAt: now, LastSeen: now}

	u, ok := r.users[id.ID]
	if !ok {
		u = &userEntry{Identity: id, Conns: make(map[core.ConnID]struct{})}
		r.users[id.ID] = u
		wentOnline = true
	}
	u.Conns[cid] = struct{}{}
	u.LastSeen = now
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("user", string(id.ID)).Int("conns", len(u.Conns)).Msg("registered connection")
	return wentOnline, nil
}

// Unregister drops cid. wentOffline is true only when it was the identity's
// last connection.
func (r *Registry) Unregister(cid core.ConnID) (id domain.Identity, wentOffline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return domain.Identity{}, false, false
	}
	delete(r.conns, cid)

	u, found := r.users[e.User.ID]
	if !found {
		panic(fmt.Sprintf("registry: connection %s has no user entry for %s", cid, e.User.ID))
	}
	delete(u.Conns, cid)
	if len(u.Conns) == 0 {
		delete(r.users, e.User.ID)
		wentOffline = true
	}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("user", string(e.User.ID)).Bool("offline", wentOffline).Msg("unregistered connection")
	return e.User, wentOffline, true
}

func (r *Registry) ConnectionsFor(uid domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[uid]
	if !ok {
		return nil
	}
	out := make([]core.ConnID, 0, len(u.Conns))
	for cid := range u.Conns {
		out = append(out, cid)
	}
	return out
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[uid]
	return ok
}

func (r *Registry) IdentityOf(cid core.ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.User, true
	}
	return domain.Identity{}, false
}

func (r *Registry) Signal(cid core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// Touch records inbound activity on cid.
func (r *Registry) Touch(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return
	}
	now := r.now()
	e.LastSeen = now
	if u, ok := r.users[e.User.ID]; ok {
		u.LastSeen = now
	}
}

func (r *Registry) Info(cid core.ConnID) (core.ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return core.ConnInfo{}, false
	}
	return core.ConnInfo{ID: cid, User: e.User, ConnectedAt: e.ConnectedAt, LastSeen: e.LastSeen}, true
}

// Live reports whether cid is registered and was seen within window.
func (r *Registry) Live(cid core.ConnID, window time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	return r.now().Sub(e.LastSeen) <= window
}

func (r *Registry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Verify checks that the forward and reverse indexes agree.
func (r *Registry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := 0
	for uid, u := range r.users {
		if len(u.Conns) == 0 {
			return fmt.Errorf("user %s has an empty connection set", uid)
		}
		for cid := range u.Conns {
			e, ok := r.conns[cid]
			if !ok {
				return fmt.Errorf("user %s lists unknown connection %s", uid, cid)
			}
			if e.User.ID != uid {
				return fmt.Errorf("connection %s maps to %s, listed under %s", cid, e.User.ID, uid)
			}
			seen++
		}
	}
	if seen != len(r.conns) {
		return fmt.Errorf("reverse index has %d connections, forward index %d", len(r.conns), seen)
	}
	return nil
}
