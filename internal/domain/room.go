package domain

import "strings"

type RoomID string

type RoomKind string

const (
	RoomPersonal RoomKind = "user"
	RoomCall     RoomKind = "call"
	RoomPresence RoomKind = "presence"
)

// PresenceRoom is shared by every live connection and carries user_status.
const PresenceRoom = RoomID(RoomPresence)

func PersonalRoom(id UserID) RoomID { return RoomID(string(RoomPersonal) + ":" + string(id)) }
func CallRoom(id CallID) RoomID     { return RoomID(string(RoomCall) + ":" + string(id)) }

func (r RoomID) Kind() RoomKind {
	kind, _, ok := strings.Cut(string(r), ":")
	if !ok {
		return RoomKind(r)
	}
	return RoomKind(kind)
}

// CallID returns the call id of a call room.
func (r RoomID) CallID() (CallID, bool) {
	kind, rest, ok := strings.Cut(string(r), ":")
	if !ok || RoomKind(kind) != RoomCall {
		return "", false
	}
	return CallID(rest), true
}
