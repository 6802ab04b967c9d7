package core

import (
	"time"

	"github.com/dkeye/Presence/internal/domain"
)

// ConnID identifies one live transport-level connection.
type ConnID string

// ConnInfo is a read-only view of a registered connection.
type ConnInfo struct {
	ID          ConnID          `json:"id"`
	User        domain.Identity `json:"user"`
	ConnectedAt time.Time       `json:"connectedAt"`
	LastSeen    time.Time       `json:"lastSeen"`
}
