package core

import "github.com/dkeye/Presence/internal/domain"

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Kind        domain.RoomKind `json:"kind"`
	MemberCount int             `json:"member_count"`
}

// RoomIndex is the core-facing API of the room membership index.
// It owns membership sets but never touches transport resources.
type RoomIndex interface {
	// Join is idempotent; created reports an empty->nonempty transition.
	Join(room domain.RoomID, cid ConnID) (created bool)
	// Leave is idempotent; emptied reports the room was deleted.
	Leave(room domain.RoomID, cid ConnID) (emptied bool)
	// LeaveAll drops cid from every room it is in and returns the rooms it emptied.
	LeaveAll(cid ConnID) (emptied []domain.RoomID)
	MembersOf(room domain.RoomID) []ConnID
	RoomsOf(cid ConnID) []domain.RoomID
	IsMember(room domain.RoomID, cid ConnID) bool
	List() []RoomInfo
}
