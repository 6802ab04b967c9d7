package orch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/events"
	"github.com/dkeye/Presence/internal/audit"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ConnMeta is transport detail kept for audit only.
type ConnMeta struct {
	Remote string
	Agent  string
}

// Authenticate delegates to the verifier. Failures never reach the hub state.
func (o *Orchestrator) Authenticate(raw string, meta ConnMeta) (domain.Identity, error) {
	if o.Verifier == nil {
		return domain.Identity{}, app.Errorf(app.CodeAuthenticationFailed, "no verifier configured")
	}
	id, err := o.Verifier.Verify(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("remote", meta.Remote).Msg("authentication failed")
		o.Audit.Record(audit.Record{Kind: audit.KindAuthFailure, At: o.now(), Reason: err.Error(), Remote: meta.Remote, Agent: meta.Agent})
		return domain.Identity{}, app.Errorf(app.CodeAuthenticationFailed, "%v", err)
	}
	return id, nil
}

type connectedAck struct {
	Message      string             `json:"message"`
	UserID       domain.UserID      `json:"userId"`
	Role         domain.Role        `json:"role"`
	ConnectionID core.ConnID        `json:"connectionId"`
	ICEServers   []webrtc.ICEServer `json:"iceServers"`
	Timestamp    time.Time          `json:"timestamp"`
}

type userStatus struct {
	UserID    domain.UserID `json:"userId"`
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// OnConnect wires an authenticated connection into the registry and its
// personal room, then acknowledges it.
func (o *Orchestrator) OnConnect(id domain.Identity, cid core.ConnID, sig core.SignalConnection, meta ConnMeta) error {
	wentOnline, err := o.Registry.Register(id, cid, sig)
	if err != nil {
		return err
	}
	o.Rooms.Join(domain.PersonalRoom(id.ID), cid)
	if o.PresenceBroadcast {
		o.Rooms.Join(domain.PresenceRoom, cid)
	}

	now := o.now()
	ack := connectedAck{
		Message:      "Connected successfully",
		UserID:       id.ID,
		Role:         id.Role,
		ConnectionID: cid,
		ICEServers:   o.ICEServers,
		Timestamp:    now,
	}
	out := []core.Outbound{{Target: core.ToConn(cid), Event: "connected", Payload: ack}}
	if wentOnline && o.PresenceBroadcast {
		out = append(out, core.Outbound{
			Target:  core.ToRoomExcept(domain.PresenceRoom, cid),
			Event:   "user_status",
			Payload: userStatus{UserID: id.ID, Status: "online", Timestamp: now},
		})
	}
	o.Deliver(out)

	o.Audit.Record(audit.Record{Kind: audit.KindConnect, At: now, User: id.ID, Role: id.Role, Conn: string(cid), Remote: meta.Remote, Agent: meta.Agent})
	if wentOnline {
		o.Audit.Record(audit.Record{Kind: audit.KindOnline, At: now, User: id.ID, Role: id.Role})
	}
	o.refreshGauges()
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(id.ID)).Bool("online", wentOnline).Msg("connected")
	return nil
}

// OnDisconnect tears a connection down: calls first, so call_ended still
// reaches the room as it was, then room memberships, then the registry.
// Safe to call more than once.
func (o *Orchestrator) OnDisconnect(cid core.ConnID) {
	id, ok := o.Registry.IdentityOf(cid)
	if !ok {
		return
	}
	now := o.now()
	for _, callID := range o.CallsOf(cid) {
		res := o.Calls.Leave(callID, cid, app.ReasonDisconnected)
		if res.Ended {
			o.onCallEnded(res, id.ID)
		}
		// the transport side of cid is already closed
		outs := events.LeaveOutbound(res, id.ID, now)
		for i := range outs {
			outs[i].Target.Except = cid
		}
		o.Deliver(outs)
	}
	o.Rooms.LeaveAll(cid)

	_, wentOffline, _ := o.Registry.Unregister(cid)
	if wentOffline && o.PresenceBroadcast {
		o.Deliver([]core.Outbound{{
			Target:  core.ToRoom(domain.PresenceRoom),
			Event:   "user_status",
			Payload: userStatus{UserID: id.ID, Status: "offline", Timestamp: now},
		}})
	}

	o.Audit.Record(audit.Record{Kind: audit.KindDisconnect, At: now, User: id.ID, Role: id.Role, Conn: string(cid)})
	if wentOffline {
		o.Audit.Record(audit.Record{Kind: audit.KindOffline, At: now, User: id.ID, Role: id.Role})
	}
	o.refreshGauges()
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(id.ID)).Bool("offline", wentOffline).Msg("disconnected")
}

// CallsOf lists the calls cid has joined, read from its call rooms.
func (o *Orchestrator) CallsOf(cid core.ConnID) []domain.CallID {
	var out []domain.CallID
	for _, room := range o.Rooms.RoomsOf(cid) {
		if callID, ok := room.CallID(); ok {
			out = append(out, callID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandleFrame decodes one inbound frame and routes it. Frames of a single
// connection must be fed in arrival order by one goroutine.
func (o *Orchestrator) HandleFrame(cid core.ConnID, data []byte) {
	o.Registry.Touch(cid)
	id, ok := o.Registry.IdentityOf(cid)
	if !ok {
		return
	}
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Str("module", "orch").Str("conn", string(cid)).Msg("bad frame")
		o.SendError(cid, "", app.Errorf(app.CodeBadPayload, "frame must be {\"type\":...,\"data\":{...}}"))
		return
	}
	ctx := events.Context{Conn: cid, User: id, Now: o.now()}
	o.Deliver(o.Router.Dispatch(ctx, env.Type, env.Data))
}
