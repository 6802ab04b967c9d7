package domain

import (
	"encoding/json"
	"time"
)

const DefaultMessageType = "text"

// Message is the ephemeral chat envelope. Delivered/Read are only ever set by
// acknowledgement events travelling back to the sender; nothing is stored.
type Message struct {
	ID          string            `json:"id"`
	SenderID    UserID            `json:"senderId"`
	RecipientID UserID            `json:"recipientId"`
	Message     string            `json:"message"`
	Type        string            `json:"messageType"`
	Attachments []json.RawMessage `json:"attachments"`
	Timestamp   time.Time         `json:"timestamp"`
	Delivered   bool              `json:"delivered"`
	Read        bool              `json:"read"`
}
