package orch

import (
	"context"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/events"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

const systemUser domain.UserID = "system"

// EndCall terminates a call administratively; every member gets call_ended.
func (o *Orchestrator) EndCall(callID domain.CallID, by domain.UserID, reason string) error {
	if reason == "" {
		reason = app.ReasonEnded
	}
	res, err := o.Calls.End(callID, reason)
	if err != nil {
		return err
	}
	o.onCallEnded(res, by)
	o.Deliver(events.LeaveOutbound(res, by, o.now()))
	return nil
}

// Reap ends calls with no live member for longer than the grace period and
// returns how many it ended.
func (o *Orchestrator) Reap() int {
	ended := o.Calls.Reap(o.Grace, func(cid core.ConnID) bool {
		return o.Registry.Live(cid, o.Grace)
	})
	now := o.now()
	for _, res := range ended {
		log.Warn().Str("module", "orch").Str("call", string(res.Call.ID)).Int("members", len(res.Former)).Msg("reaped stale call")
		o.onCallEnded(res, systemUser)
		o.Deliver(events.LeaveOutbound(res, systemUser, now))
	}
	return len(ended)
}

func (o *Orchestrator) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("reaper stopped")
			return
		case <-ticker.C:
			o.Reap()
		}
	}
}
