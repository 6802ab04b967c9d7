package orch

import (
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/events"
	"github.com/dkeye/Presence/internal/audit"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// Verifier is the external token verifier.
type Verifier interface {
	Verify(raw string) (domain.Identity, error)
}

// Orchestrator is the connection gateway. It owns references to the three
// state components and turns their signals into deliveries.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomIndex
	Calls    *app.CallManager
	Router   *events.Router
	Policy   app.Policy
	Verifier Verifier
	Audit    audit.Sink
	Metrics  *metrics.Metrics

	ICEServers        []webrtc.ICEServer
	PresenceBroadcast bool
	Grace             time.Duration

	now func() time.Time
}

type Options struct {
	Verifier          Verifier
	Policy            app.Policy
	Audit             audit.Sink
	Metrics           *metrics.Metrics
	ICEServers        []string
	PresenceBroadcast bool
	CallGracePeriod   time.Duration
	Strict            bool
}

func New(opts Options) *Orchestrator {
	rooms := app.NewRoomManager()
	o := &Orchestrator{
		Registry:          app.NewRegistry(),
		Rooms:             rooms,
		Calls:             app.NewCallManager(rooms),
		Policy:            opts.Policy,
		Verifier:          opts.Verifier,
		Audit:             opts.Audit,
		Metrics:           opts.Metrics,
		PresenceBroadcast: opts.PresenceBroadcast,
		Grace:             opts.CallGracePeriod,
		now:               time.Now,
	}
	if o.Policy == nil {
		o.Policy = app.DropPolicy{}
	}
	if o.Audit == nil {
		o.Audit = audit.Nop{}
	}
	if o.Grace <= 0 {
		o.Grace = 2 * time.Minute
	}
	for _, url := range opts.ICEServers {
		o.ICEServers = append(o.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	o.Router = events.NewRouter(o.Calls,
		events.WithStrict(opts.Strict),
		events.WithHooks(events.Hooks{
			OnEvent:       o.onEvent,
			OnCallStarted: o.onCallStarted,
			OnCallEnded:   o.onCallEnded,
		}),
	)
	return o
}

// SetClock points every component at the same time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.Registry.SetClock(now)
	o.Calls.SetClock(now)
}

func (o *Orchestrator) onEvent(event, code string) {
	if o.Metrics != nil {
		o.Metrics.Event(event, code)
	}
}

func (o *Orchestrator) onCallStarted(call domain.Call, by domain.UserID) {
	o.Audit.Record(audit.Record{Kind: audit.KindCallStart, At: o.now(), User: by, Call: call.ID})
	o.refreshGauges()
}

func (o *Orchestrator) onCallEnded(res app.LeaveResult, by domain.UserID) {
	o.Audit.Record(audit.Record{
		Kind:     audit.KindCallEnd,
		At:       o.now(),
		User:     by,
		Call:     res.Call.ID,
		Reason:   res.Reason,
		Duration: res.Duration,
	})
	o.refreshGauges()
}

func (o *Orchestrator) refreshGauges() {
	if o.Metrics == nil {
		return
	}
	o.Metrics.Connections.Set(float64(o.Registry.ConnCount()))
	o.Metrics.OnlineUsers.Set(float64(len(o.Registry.OnlineUsers())))
	o.Metrics.ActiveCalls.Set(float64(o.Calls.Count()))
}
