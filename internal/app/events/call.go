package events

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/pion/webrtc/v4"
)

type joinCallPayload struct {
	// empty call ids are rejected by the call manager as INVALID_CALL_REQUEST
	CallID       domain.CallID   `json:"callId"`
	Participants []domain.UserID `json:"participants" validate:"required"`
	IsVideo      *bool           `json:"isVideo"`
	IsAudio      *bool           `json:"isAudio"`
}

func (r *Router) handleJoinCall(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p joinCallPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	media := domain.MediaFlags{Video: boolOr(p.IsVideo, true), Audio: boolOr(p.IsAudio, true)}
	res, err := r.calls.Join(p.CallID, ctx.User.ID, ctx.Conn, p.Participants, media)
	if err != nil {
		return nil, err
	}
	if res.Created && r.hooks.OnCallStarted != nil {
		r.hooks.OnCallStarted(res.Call, ctx.User.ID)
	}

	ack := struct {
		CallID       domain.CallID   `json:"callId"`
		Participants []domain.UserID `json:"participants"`
		Members      []domain.Member `json:"members"`
		IsVideo      bool            `json:"isVideo"`
		IsAudio      bool            `json:"isAudio"`
		Timestamp    time.Time       `json:"timestamp"`
	}{res.Call.ID, res.Call.Participants, res.Call.Members, media.Video, media.Audio, ctx.Now}
	out := []core.Outbound{{Target: core.ToConn(ctx.Conn), Event: "call_joined", Payload: ack}}
	if res.Rejoined {
		return out, nil
	}

	joined := struct {
		CallID    domain.CallID `json:"callId"`
		UserID    domain.UserID `json:"userId"`
		IsVideo   bool          `json:"isVideo"`
		IsAudio   bool          `json:"isAudio"`
		Timestamp time.Time     `json:"timestamp"`
	}{p.CallID, ctx.User.ID, media.Video, media.Audio, ctx.Now}
	return append(out, core.Outbound{
		Target:  core.ToRoomExcept(domain.CallRoom(p.CallID), ctx.Conn),
		Event:   "user_joined_call",
		Payload: joined,
	}), nil
}

type callRefPayload struct {
	CallID domain.CallID `json:"callId" validate:"required"`
}

func (r *Router) handleLeaveCall(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p callRefPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	res := r.calls.Leave(p.CallID, ctx.Conn, app.ReasonLeft)
	if res.Ended && r.hooks.OnCallEnded != nil {
		r.hooks.OnCallEnded(res, ctx.User.ID)
	}
	return LeaveOutbound(res, ctx.User.ID, ctx.Now), nil
}

// LeaveOutbound turns a call departure into broadcasts: call_ended to the
// members present right before an ending leave, user_left_call to the
// remaining room otherwise.
func LeaveOutbound(res app.LeaveResult, by domain.UserID, now time.Time) []core.Outbound {
	if res.Ended {
		ended := struct {
			CallID    domain.CallID `json:"callId"`
			EndedBy   domain.UserID `json:"endedBy"`
			Reason    string        `json:"reason"`
			Duration  int64         `json:"duration"`
			Timestamp time.Time     `json:"timestamp"`
		}{res.Call.ID, by, res.Reason, res.Duration.Milliseconds(), now}
		if len(res.Former) == 0 {
			return nil
		}
		return []core.Outbound{{Target: core.ToConn(res.Former...), Event: "call_ended", Payload: ended}}
	}
	if !res.Left {
		return nil
	}
	left := struct {
		CallID    domain.CallID `json:"callId"`
		UserID    domain.UserID `json:"userId"`
		Reason    string        `json:"reason"`
		Timestamp time.Time     `json:"timestamp"`
	}{res.Call.ID, res.User, res.Reason, now}
	return []core.Outbound{{Target: core.ToRoom(domain.CallRoom(res.Call.ID)), Event: "user_left_call", Payload: left}}
}

type signalPayload struct {
	CallID       domain.CallID   `json:"callId" validate:"required"`
	TargetUserID domain.UserID   `json:"targetUserId" validate:"required"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer"`
	Candidate    json.RawMessage `json:"candidate"`
}

func (r *Router) handleOffer(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	return r.relaySignal(ctx, data, "webrtc_offer", "offer", func(p signalPayload) json.RawMessage { return p.Offer }, checkSDP(webrtc.SDPTypeOffer))
}

func (r *Router) handleAnswer(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	return r.relaySignal(ctx, data, "webrtc_answer", "answer", func(p signalPayload) json.RawMessage { return p.Answer }, checkSDP(webrtc.SDPTypeAnswer))
}

func (r *Router) handleCandidate(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	return r.relaySignal(ctx, data, "webrtc_ice_candidate", "candidate", func(p signalPayload) json.RawMessage { return p.Candidate }, checkCandidate)
}

// relaySignal forwards the signal body verbatim to the target's personal
// room. A target without live connections silently drops it.
func (r *Router) relaySignal(
	ctx Context,
	data json.RawMessage,
	event string,
	field string,
	pick func(signalPayload) json.RawMessage,
	check func(json.RawMessage) error,
) ([]core.Outbound, error) {
	var p signalPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	body := pick(p)
	if err := requireRaw(field, body); err != nil {
		return nil, err
	}
	if err := check(body); err != nil {
		return nil, err
	}
	if err := r.calls.ValidateRelay(p.CallID, ctx.User.ID, p.TargetUserID); err != nil {
		return nil, err
	}
	resp := map[string]any{
		"callId":     p.CallID,
		"fromUserId": ctx.User.ID,
		field:        body,
		"timestamp":  ctx.Now,
	}
	return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.TargetUserID)), Event: event, Payload: resp}}, nil
}

// checkSDP accepts opaque bodies but rejects a session description that
// declares the wrong type.
func checkSDP(want webrtc.SDPType) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var desc struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if err := json.Unmarshal(raw, &desc); err != nil || desc.Type == "" {
			return nil
		}
		if webrtc.NewSDPType(desc.Type) != want {
			return app.Errorf(app.CodeInvalidSignal, "expected %s description, got %q", want, desc.Type)
		}
		return nil
	}
}

func checkCandidate(raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return app.Errorf(app.CodeInvalidSignal, "candidate: %v", err)
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
