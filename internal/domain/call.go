package domain

import "time"

type CallID string

type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

type MediaFlags struct {
	Video bool `json:"isVideo"`
	Audio bool `json:"isAudio"`
}

// Call is a read-only snapshot of a live call record.
type Call struct {
	ID           CallID     `json:"callId"`
	Participants []UserID   `json:"participants"`
	Members      []Member   `json:"members"`
	Media        MediaFlags `json:"media"`
	Status       CallStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (c Call) HasParticipant(id UserID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}
