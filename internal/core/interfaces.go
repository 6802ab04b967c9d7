package core

import (
	"encoding/json"

	"github.com/dkeye/Presence/internal/domain"
)

// Target selects recipients of an outbound event. Room membership is
// resolved at emit time; Conns are explicit recipients added on top.
type Target struct {
	Room   domain.RoomID
	Conns  []ConnID
	Except ConnID
}

func ToRoom(room domain.RoomID) Target { return Target{Room: room} }

func ToRoomExcept(room domain.RoomID, except ConnID) Target {
	return Target{Room: room, Except: except}
}

func ToConn(cids ...ConnID) Target { return Target{Conns: cids} }

// Outbound is one event produced by a handler, not yet delivered.
type Outbound struct {
	Target  Target
	Event   string
	Payload any
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound event into a frame.
func Encode(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Data: data})
}
