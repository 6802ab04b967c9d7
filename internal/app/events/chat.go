package events

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type sendMessagePayload struct {
	RecipientID domain.UserID     `json:"recipientId" validate:"required"`
	Message     string            `json:"message" validate:"required"`
	MessageType string            `json:"messageType"`
	Attachments []json.RawMessage `json:"attachments"`
}

// handleSendMessage delivers to the recipient's personal room if anyone is
// in it. Offline recipients get nothing; there is no backlog.
func (r *Router) handleSendMessage(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p sendMessagePayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if p.MessageType == "" {
		p.MessageType = domain.DefaultMessageType
	}
	if p.Attachments == nil {
		p.Attachments = []json.RawMessage{}
	}
	msg := domain.Message{
		ID:          uuid.NewString(),
		SenderID:    ctx.User.ID,
		RecipientID: p.RecipientID,
		Message:     p.Message,
		Type:        p.MessageType,
		Attachments: p.Attachments,
		Timestamp:   ctx.Now,
	}
	ack := struct {
		MessageID string    `json:"messageId"`
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{msg.ID, "sent", msg.Timestamp}

	log.Info().Str("module", "events").Str("message", msg.ID).Str("from", string(msg.SenderID)).Str("to", string(msg.RecipientID)).Str("type", msg.Type).Msg("message sent")
	return []core.Outbound{
		{Target: core.ToRoom(domain.PersonalRoom(p.RecipientID)), Event: "new_message", Payload: msg},
		{Target: core.ToConn(ctx.Conn), Event: "message_sent", Payload: ack},
	}, nil
}

type typingPayload struct {
	RecipientID domain.UserID `json:"recipientId" validate:"required"`
}

func (r *Router) handleTyping(typing bool) HandlerFunc {
	return func(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
		var p typingPayload
		if err := r.bind(data, &p); err != nil {
			return nil, err
		}
		resp := struct {
			UserID    domain.UserID `json:"userId"`
			IsTyping  bool          `json:"isTyping"`
			Timestamp time.Time     `json:"timestamp"`
		}{ctx.User.ID, typing, ctx.Now}
		return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.RecipientID)), Event: "user_typing", Payload: resp}}, nil
	}
}

type messageStatusPayload struct {
	MessageID string        `json:"messageId" validate:"required"`
	SenderID  domain.UserID `json:"senderId" validate:"required"`
}

// handleMessageStatus relays a delivery or read receipt back to the sender.
func (r *Router) handleMessageStatus(status string) HandlerFunc {
	return func(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
		var p messageStatusPayload
		if err := r.bind(data, &p); err != nil {
			return nil, err
		}
		resp := struct {
			MessageID string        `json:"messageId"`
			Status    string        `json:"status"`
			UserID    domain.UserID `json:"userId"`
			Timestamp time.Time     `json:"timestamp"`
		}{p.MessageID, status, ctx.User.ID, ctx.Now}
		return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.SenderID)), Event: "message_status", Payload: resp}}, nil
	}
}
