package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/audit"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a SignalConnection that keeps every frame it accepts.
type recorder struct {
	mu     sync.Mutex
	frames []core.Envelope
	full   bool
	closed bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrConnClosed
	}
	if r.full {
		return core.ErrBackpressure
	}
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) last(event string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == event {
			var m map[string]any
			_ = json.Unmarshal(r.frames[i].Data, &m)
			return m
		}
	}
	return nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

type tokenVerifier map[string]domain.Identity

func (v tokenVerifier) Verify(raw string) (domain.Identity, error) {
	id, ok := v[raw]
	if !ok {
		return domain.Identity{}, errors.New("bad token")
	}
	return id, nil
}

type auditLog struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *auditLog) Record(r audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func (a *auditLog) kinds() []audit.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Kind, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Kind)
	}
	return out
}

func newTestOrch(t *testing.T) (*Orchestrator, *auditLog) {
	t.Helper()
	log := &auditLog{}
	o := New(Options{
		Verifier: tokenVerifier{
			"tA": {ID: "A", Role: domain.RoleStudent},
			"tB": {ID: "B", Role: domain.RoleTutor},
			"tC": {ID: "C", Role: domain.RoleStudent},
		},
		Audit:             log,
		PresenceBroadcast: true,
		CallGracePeriod:   time.Minute,
	})
	return o, log
}

func connect(t *testing.T, o *Orchestrator, token string, cid core.ConnID) *recorder {
	t.Helper()
	id, err := o.Authenticate(token, ConnMeta{Remote: "127.0.0.1"})
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, o.OnConnect(id, cid, rec, ConnMeta{}))
	return rec
}

func send(o *Orchestrator, cid core.ConnID, event string, data string) {
	frame, _ := json.Marshal(core.Envelope{Type: event, Data: json.RawMessage(data)})
	o.HandleFrame(cid, frame)
}

func TestAuthenticate_Failure(t *testing.T) {
	o, log := newTestOrch(t)
	_, err := o.Authenticate("forged", ConnMeta{Remote: "10.0.0.1"})
	assert.ErrorIs(t, err, app.ErrAuthenticationFailed)
	assert.Equal(t, []audit.Kind{audit.KindAuthFailure}, log.kinds())
	assert.Equal(t, 0, o.Registry.ConnCount())
}

func TestOnConnect_AckAndPresence(t *testing.T) {
	o, _ := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	ack := a.last("connected")
	require.NotNil(t, ack)
	assert.Equal(t, "A", ack["userId"])
	assert.Equal(t, "cA", ack["connectionId"])

	b := connect(t, o, "tB", "cB")
	assert.Equal(t, []string{"connected"}, b.events(), "a connection does not see its own online status")
	st := a.last("user_status")
	require.NotNil(t, st)
	assert.Equal(t, "B", st["userId"])
	assert.Equal(t, "online", st["status"])

	a.reset()
	connect(t, o, "tB", "cB2")
	assert.Empty(t, a.events(), "second device does not re-announce online")
}

func TestMultiDevice_OfflineOnce(t *testing.T) {
	o, log := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	connect(t, o, "tB", "cB1")
	connect(t, o, "tB", "cB2")
	a.reset()

	o.OnDisconnect("cB1")
	assert.Empty(t, a.events())
	assert.True(t, o.Registry.IsOnline("B"))

	o.OnDisconnect("cB2")
	assert.Equal(t, []string{"user_status"}, a.events())
	assert.Equal(t, "offline", a.last("user_status")["status"])
	assert.False(t, o.Registry.IsOnline("B"))

	o.OnDisconnect("cB2")
	assert.Equal(t, []string{"user_status"}, a.events(), "repeat disconnect is a no-op")

	offline := 0
	for _, k := range log.kinds() {
		if k == audit.KindOffline {
			offline++
		}
	}
	assert.Equal(t, 1, offline)
}

func TestMessageToOfflineUser(t *testing.T) {
	o, _ := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	a.reset()

	send(o, "cA", "send_message", `{"recipientId":"B","message":"hi"}`)
	assert.Equal(t, []string{"message_sent"}, a.events())
	assert.Equal(t, "sent", a.last("message_sent")["status"])
}

func TestMessageReachesEveryDevice(t *testing.T) {
	o, _ := newTestOrch(t)
	connect(t, o, "tA", "cA")
	b1 := connect(t, o, "tB", "cB1")
	b2 := connect(t, o, "tB", "cB2")

	send(o, "cA", "send_message", `{"recipientId":"B","message":"hi"}`)
	for _, r := range []*recorder{b1, b2} {
		msg := r.last("new_message")
		require.NotNil(t, msg)
		assert.Equal(t, "hi", msg["message"])
		assert.Equal(t, "A", msg["senderId"])
	}
}

func TestBadFrame(t *testing.T) {
	o, _ := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	a.reset()
	o.HandleFrame("cA", []byte("not json"))
	o.HandleFrame("cA", []byte(`{"data":{}}`))
	assert.Equal(t, []string{"error", "error"}, a.events())
	assert.Equal(t, app.CodeBadPayload, a.last("error")["code"])
}

func TestCallDisconnectEndsCall(t *testing.T) {
	o, log := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	b := connect(t, o, "tB", "cB")

	send(o, "cA", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cB", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	assert.NotNil(t, a.last("user_joined_call"))

	send(o, "cA", "webrtc_offer", `{"callId":"k1","targetUserId":"B","offer":{"type":"offer","sdp":"v=0"}}`)
	offer := b.last("webrtc_offer")
	require.NotNil(t, offer)
	assert.Equal(t, "A", offer["fromUserId"])

	b.reset()
	o.OnDisconnect("cA")
	left := b.last("user_left_call")
	require.NotNil(t, left)
	assert.Equal(t, app.ReasonDisconnected, left["reason"])
	assert.Equal(t, "offline", b.last("user_status")["status"])

	send(o, "cB", "leave_call", `{"callId":"k1"}`)
	ended := b.last("call_ended")
	require.NotNil(t, ended)
	assert.Equal(t, "B", ended["endedBy"])
	assert.Equal(t, 0, o.Calls.Count())
	assert.Contains(t, log.kinds(), audit.KindCallEnd)
}

func TestDisconnectInTwoCalls(t *testing.T) {
	o, _ := newTestOrch(t)
	connect(t, o, "tA", "cA")
	b := connect(t, o, "tB", "cB")
	c := connect(t, o, "tC", "cC")

	send(o, "cA", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cB", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cA", "join_call", `{"callId":"k2","participants":["A","C"]}`)
	assert.ElementsMatch(t, []domain.CallID{"k1", "k2"}, o.CallsOf("cA"))

	b.reset()
	c.reset()
	o.OnDisconnect("cA")

	assert.Equal(t, "k1", b.last("user_left_call")["callId"])
	assert.Nil(t, c.last("call_ended"), "C never joined k2")
	_, ok := o.Calls.Get("k2")
	assert.False(t, ok, "k2 ended with its last member")
	assert.Empty(t, o.Rooms.RoomsOf("cA"))
	assert.NoError(t, o.Registry.Verify())
}

func TestEndCall_Admin(t *testing.T) {
	o, _ := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	b := connect(t, o, "tB", "cB")
	send(o, "cA", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cB", "join_call", `{"callId":"k1","participants":["A","B"]}`)

	assert.ErrorIs(t, o.EndCall("nope", "admin", ""), app.ErrUnknownCall)
	require.NoError(t, o.EndCall("k1", "admin", ""))
	for _, r := range []*recorder{a, b} {
		ended := r.last("call_ended")
		require.NotNil(t, ended)
		assert.Equal(t, "admin", ended["endedBy"])
		assert.Equal(t, app.ReasonEnded, ended["reason"])
	}
	assert.Empty(t, o.CallsOf("cA"))
}

func TestReap(t *testing.T) {
	o, _ := newTestOrch(t)
	now := time.Unix(1700000000, 0)
	o.SetClock(func() time.Time { return now })

	a := connect(t, o, "tA", "cA")
	send(o, "cA", "join_call", `{"callId":"k1","participants":["A","B"]}`)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, o.Reap())

	// cA stays registered but goes silent past the grace period.
	now = now.Add(3 * time.Minute)
	a.reset()
	assert.Equal(t, 1, o.Reap())
	ended := a.last("call_ended")
	require.NotNil(t, ended)
	assert.Equal(t, "system", ended["endedBy"])
	assert.Equal(t, app.ReasonTimeout, ended["reason"])
	assert.Equal(t, 0, o.Calls.Count())
	assert.Empty(t, o.Rooms.MembersOf(domain.CallRoom("k1")))
}

func TestBackpressure(t *testing.T) {
	o, _ := newTestOrch(t)
	connect(t, o, "tA", "cA")
	b := connect(t, o, "tB", "cB")
	b.mu.Lock()
	b.full = true
	b.mu.Unlock()

	send(o, "cA", "send_message", `{"recipientId":"B","message":"hi"}`)
	b.mu.Lock()
	assert.False(t, b.closed, "drop policy keeps the connection")
	b.mu.Unlock()

	o.Policy = app.SimplePolicy{}
	send(o, "cA", "send_message", `{"recipientId":"B","message":"hi"}`)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.True(t, b.closed, "kick policy closes the connection")
}

func TestNotify(t *testing.T) {
	o, _ := newTestOrch(t)
	b1 := connect(t, o, "tB", "cB1")
	connect(t, o, "tB", "cB2")
	assert.Equal(t, 2, o.Notify("B", map[string]string{"kind": "reminder"}))
	assert.Equal(t, 0, o.Notify("Z", nil))
	n := b1.last("notification")
	require.NotNil(t, n)
	assert.Equal(t, map[string]any{"kind": "reminder"}, n["payload"])
}

func TestDisconnect_SkipsDepartingConnection(t *testing.T) {
	o, _ := newTestOrch(t)
	m := metrics.New("test")
	o.Metrics = m
	a := connect(t, o, "tA", "cA")
	b := connect(t, o, "tB", "cB")
	send(o, "cA", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cB", "join_call", `{"callId":"k1","participants":["A","B"]}`)
	send(o, "cB", "leave_call", `{"callId":"k1"}`)
	require.Equal(t, 1, o.Calls.Count())

	// the read pump closes the socket before tearing the connection down
	a.Close()
	b.reset()
	o.OnDisconnect("cA")

	assert.Equal(t, 0, o.Calls.Count())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("closed")))
	assert.Nil(t, b.last("call_ended"), "B had already left")
}

func TestSendError_RateLimited(t *testing.T) {
	o, _ := newTestOrch(t)
	a := connect(t, o, "tA", "cA")
	o.SendError("cA", "", app.ErrRateLimited)
	e := a.last("error")
	require.NotNil(t, e)
	assert.Equal(t, app.CodeRateLimited, e["code"])
	assert.Equal(t, "rate limited", e["message"])
}
