package events

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
)

type whiteboardDrawPayload struct {
	CallID   domain.CallID   `json:"callId" validate:"required"`
	DrawData json.RawMessage `json:"drawData"`
}

func (r *Router) handleWhiteboardDraw(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p whiteboardDrawPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if err := requireRaw("drawData", p.DrawData); err != nil {
		return nil, err
	}
	if err := r.calls.RequireMember(p.CallID, ctx.Conn); err != nil {
		return nil, err
	}
	resp := struct {
		CallID    domain.CallID   `json:"callId"`
		From      domain.UserID   `json:"from"`
		DrawData  json.RawMessage `json:"drawData"`
		Timestamp time.Time       `json:"timestamp"`
	}{p.CallID, ctx.User.ID, p.DrawData, ctx.Now}
	return []core.Outbound{{Target: core.ToRoomExcept(domain.CallRoom(p.CallID), ctx.Conn), Event: "whiteboard_draw", Payload: resp}}, nil
}

func (r *Router) handleWhiteboardClear(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p callRefPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if err := r.calls.RequireMember(p.CallID, ctx.Conn); err != nil {
		return nil, err
	}
	resp := struct {
		CallID    domain.CallID `json:"callId"`
		From      domain.UserID `json:"from"`
		Timestamp time.Time     `json:"timestamp"`
	}{p.CallID, ctx.User.ID, ctx.Now}
	return []core.Outbound{{Target: core.ToRoomExcept(domain.CallRoom(p.CallID), ctx.Conn), Event: "whiteboard_clear", Payload: resp}}, nil
}

func (r *Router) handleScreenShare(event string) HandlerFunc {
	return func(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
		var p callRefPayload
		if err := r.bind(data, &p); err != nil {
			return nil, err
		}
		if err := r.calls.RequireMember(p.CallID, ctx.Conn); err != nil {
			return nil, err
		}
		resp := struct {
			CallID    domain.CallID `json:"callId"`
			UserID    domain.UserID `json:"userId"`
			Timestamp time.Time     `json:"timestamp"`
		}{p.CallID, ctx.User.ID, ctx.Now}
		return []core.Outbound{{Target: core.ToRoomExcept(domain.CallRoom(p.CallID), ctx.Conn), Event: event, Payload: resp}}, nil
	}
}
