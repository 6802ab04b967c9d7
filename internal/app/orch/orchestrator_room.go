package orch

import (
	"errors"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/events"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

// Deliver sends every outbound event in order. Room membership is resolved
// here, at emit time, from a snapshot taken under the index lock; sends
// happen after the lock is released.
func (o *Orchestrator) Deliver(outs []core.Outbound) {
	for _, out := range outs {
		o.deliver(out)
	}
}

func (o *Orchestrator) deliver(out core.Outbound) int {
	recipients := o.resolve(out.Target)
	if len(recipients) == 0 {
		log.Debug().Str("module", "orch").Str("event", out.Event).Str("room", string(out.Target.Room)).Msg("no recipients, dropped")
		return 0
	}
	frame, err := core.Encode(out.Event, out.Payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", out.Event).Msg("encode outbound")
		return 0
	}
	sent := 0
	for _, cid := range recipients {
		sig, ok := o.Registry.Signal(cid)
		if !ok {
			continue
		}
		if err := sig.TrySend(frame); err != nil {
			o.onSendFailure(cid, sig, out.Event, err)
			continue
		}
		sent++
	}
	log.Debug().Str("module", "orch").Str("event", out.Event).Int("sent_to", sent).Int("recipients", len(recipients)).Msg("broadcast result")
	return sent
}

func (o *Orchestrator) resolve(t core.Target) []core.ConnID {
	var members []core.ConnID
	if t.Room != "" {
		members = o.Rooms.MembersOf(t.Room)
	}
	if len(t.Conns) == 0 && t.Except == "" {
		return members
	}
	seen := make(map[core.ConnID]struct{}, len(members)+len(t.Conns))
	out := make([]core.ConnID, 0, len(members)+len(t.Conns))
	for _, list := range [][]core.ConnID{members, t.Conns} {
		for _, cid := range list {
			if cid == t.Except {
				continue
			}
			if _, dup := seen[cid]; dup {
				continue
			}
			seen[cid] = struct{}{}
			out = append(out, cid)
		}
	}
	return out
}

func (o *Orchestrator) onSendFailure(cid core.ConnID, sig core.SignalConnection, event string, err error) {
	reason := "closed"
	if errors.Is(err, core.ErrBackpressure) {
		reason = "backpressure"
	}
	if o.Metrics != nil {
		o.Metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
	if reason != "backpressure" {
		return
	}
	switch o.Policy.OnBackPressure(cid, event) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(cid)).Str("event", event).Msg("slow connection kicked")
		sig.Close()
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("conn", string(cid)).Str("event", event).Msg("frame dropped on backpressure")
	}
}

// SendError reports err to a single connection.
func (o *Orchestrator) SendError(cid core.ConnID, event string, err *app.Error) {
	o.Deliver([]core.Outbound{events.ErrorOutbound(cid, event, err)})
}

// Notify pushes a server-side notification to every live connection of uid.
func (o *Orchestrator) Notify(uid domain.UserID, payload any) int {
	body := struct {
		Payload   any       `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
	}{payload, o.now()}
	return o.deliver(core.Outbound{Target: core.ToRoom(domain.PersonalRoom(uid)), Event: "notification", Payload: body})
}
