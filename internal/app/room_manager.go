package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the room membership index. rooms and byConn are two
// views of the same relation and change together under mu.
type RoomManagerImpl struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[core.ConnID]struct{}
	byConn map[core.ConnID]map[domain.RoomID]struct{}
}

var _ core.RoomIndex = (*RoomManagerImpl)(nil)

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{
		rooms:  make(map[domain.RoomID]map[core.ConnID]struct{}),
		byConn: make(map[core.ConnID]map[domain.RoomID]struct{}),
	}
}

func (f *RoomManagerImpl) Join(room domain.RoomID, cid core.ConnID) (created bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.rooms[room]
	if !ok {
		members = make(map[core.ConnID]struct{})
		f.rooms[room] = members
		created = true
	}
	if _, in := members[cid]; in {
		return false
	}
	members[cid] = struct{}{}

	joined, ok := f.byConn[cid]
	if !ok {
		joined = make(map[domain.RoomID]struct{})
		f.byConn[cid] = joined
	}
	joined[room] = struct{}{}
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(cid)).Bool("created", created).Msg("joined")
	return created
}

func (f *RoomManagerImpl) Leave(room domain.RoomID, cid core.ConnID) (emptied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emptied = f.leaveLocked(room, cid)
	if emptied {
		log.Debug().Str("module", "app.rooms").Str("room", string(room)).Msg("room emptied")
	}
	return emptied
}

func (f *RoomManagerImpl) leaveLocked(room domain.RoomID, cid core.ConnID) bool {
	members, ok := f.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[cid]; !in {
		return false
	}
	delete(members, cid)
	if joined, ok := f.byConn[cid]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(f.byConn, cid)
		}
	}
	if len(members) == 0 {
		delete(f.rooms, room)
		return true
	}
	return false
}

// LeaveAll only visits the rooms cid is in.
func (f *RoomManagerImpl) LeaveAll(cid core.ConnID) (emptied []domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := f.byConn[cid]
	rooms := make([]domain.RoomID, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		if f.leaveLocked(room, cid) {
			emptied = append(emptied, room)
		}
	}
	log.Debug().Str("module", "app.rooms").Str("conn", string(cid)).Int("rooms", len(rooms)).Int("emptied", len(emptied)).Msg("left all rooms")
	return emptied
}

// MembersOf returns a snapshot; callers deliver without holding the lock.
func (f *RoomManagerImpl) MembersOf(room domain.RoomID) []core.ConnID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	members := f.rooms[room]
	out := make([]core.ConnID, 0, len(members))
	for cid := range members {
		out = append(out, cid)
	}
	return out
}

func (f *RoomManagerImpl) RoomsOf(cid core.ConnID) []domain.RoomID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	joined := f.byConn[cid]
	out := make([]domain.RoomID, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}

func (f *RoomManagerImpl) IsMember(room domain.RoomID, cid core.ConnID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.rooms[room][cid]
	return ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, members := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, Kind: id.Kind(), MemberCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
