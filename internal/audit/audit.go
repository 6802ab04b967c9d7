// Package audit receives structured records about connections and calls.
// Sinks are fire-and-forget: Record must never block hub logic.
package audit

import (
	"time"

	"github.com/dkeye/Presence/internal/domain"
)

type Kind string

const (
	KindConnect     Kind = "connect"
	KindDisconnect  Kind = "disconnect"
	KindAuthFailure Kind = "auth_failure"
	KindOnline      Kind = "online"
	KindOffline     Kind = "offline"
	KindCallStart   Kind = "call_start"
	KindCallEnd     Kind = "call_end"
)

type Record struct {
	Kind     Kind          `json:"kind"`
	At       time.Time     `json:"at"`
	User     domain.UserID `json:"user,omitempty"`
	Role     domain.Role   `json:"role,omitempty"`
	Conn     string        `json:"conn,omitempty"`
	Call     domain.CallID `json:"call,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Remote   string        `json:"remote,omitempty"`
	Agent    string        `json:"agent,omitempty"`
}

type Sink interface {
	Record(Record)
}

// Multi fans a record out to every sink in order.
type Multi []Sink

func (m Multi) Record(r Record) {
	for _, s := range m {
		s.Record(r)
	}
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(Record) {}
