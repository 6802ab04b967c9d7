package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	ReasonLeft         = "left"
	ReasonDisconnected = "disconnected"
	ReasonEnded        = "ended"
	ReasonTimeout      = "timeout"
)

type callRecord struct {
	id           domain.CallID
	participants []domain.UserID
	declared     map[domain.UserID]struct{}
	joined       map[core.ConnID]domain.Member
	media        domain.MediaFlags
	status       domain.CallStatus
	createdAt    time.Time
	lastLive     time.Time
}

func (c *callRecord) snapshot() domain.Call {
	members := make([]domain.Member, 0, len(c.joined))
	for _, m := range c.joined {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return domain.Call{
		ID:           c.id,
		Participants: append([]domain.UserID(nil), c.participants...),
		Members:      members,
		Media:        c.media,
		Status:       c.status,
		CreatedAt:    c.createdAt,
	}
}

func (c *callRecord) conns() []core.ConnID {
	out := make([]core.ConnID, 0, len(c.joined))
	for cid := range c.joined {
		out = append(out, cid)
	}
	return out
}

type JoinResult struct {
	Call domain.Call
	// Created is true when this join created the call record.
	Created bool
	// Rejoined is true when the connection was already a member.
	Rejoined bool
}

type LeaveResult struct {
	Call domain.Call
	User domain.UserID
	// Left is false when the connection was not a member (no-op).
	Left  bool
	Ended bool
	// Former holds the members present immediately before the call ended.
	Former   []core.ConnID
	Duration time.Duration
	Reason   string
}

// CallManager is the sole owner of call records. Lock order is
// calls -> rooms; the room index never calls back.
type CallManager struct {
	mu    sync.Mutex
	calls map[domain.CallID]*callRecord
	rooms core.RoomIndex
	now   func() time.Time
}

func NewCallManager(rooms core.RoomIndex) *CallManager {
	return &CallManager{
		calls: make(map[domain.CallID]*callRecord),
		rooms: rooms,
		now:   time.Now,
	}
}

func (m *CallManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Join creates the call on first use with the caller-declared participants
// and adds cid to the call room. A failed join mutates nothing.
func (m *CallManager) Join(
	callID domain.CallID,
	user domain.UserID,
	cid core.ConnID,
	participants []domain.UserID,
	media domain.MediaFlags,
) (JoinResult, error) {
	if callID == "" {
		return JoinResult{}, Errorf(CodeInvalidCallRequest, "empty call id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, exists := m.calls[callID]
	if !exists {
		if !containsUser(participants, user) {
			return JoinResult{}, Errorf(CodeInvalidCallRequest, "%s is not a declared participant", user)
		}
		rec = newCallRecord(callID, participants, media, now)
	} else if _, ok := rec.declared[user]; !ok {
		return JoinResult{}, Errorf(CodeInvalidCallRequest, "%s is not a declared participant", user)
	}
	if !exists {
		m.calls[callID] = rec
		log.Info().Str("module", "app.calls").Str("call", string(callID)).Int("participants", len(rec.participants)).Msg("call created")
	}

	if _, ok := rec.joined[cid]; ok {
		return JoinResult{Call: rec.snapshot(), Rejoined: true}, nil
	}
	m.rooms.Join(domain.CallRoom(callID), cid)
	rec.joined[cid] = domain.NewMember(user, media, now)
	rec.status = domain.CallActive
	rec.lastLive = now
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("user", string(user)).Str("conn", string(cid)).Int("members", len(rec.joined)).Msg("joined call")
	return JoinResult{Call: rec.snapshot(), Created: !exists}, nil
}

func newCallRecord(id domain.CallID, participants []domain.UserID, media domain.MediaFlags, now time.Time) *callRecord {
	rec := &callRecord{
		id:        id,
		declared:  make(map[domain.UserID]struct{}, len(participants)),
		joined:    make(map[core.ConnID]domain.Member),
		media:     media,
		status:    domain.CallPending,
		createdAt: now,
		lastLive:  now,
	}
	for _, p := range participants {
		if _, dup := rec.declared[p]; dup || p == "" {
			continue
		}
		rec.declared[p] = struct{}{}
		rec.participants = append(rec.participants, p)
	}
	return rec
}

// Leave removes cid from the call. When that empties the call room the
// call ends and its record is deleted.
func (m *CallManager) Leave(callID domain.CallID, cid core.ConnID, reason string) LeaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return LeaveResult{Reason: reason}
	}
	member, ok := rec.joined[cid]
	if !ok {
		return LeaveResult{Call: rec.snapshot(), Reason: reason}
	}
	former := rec.conns()
	delete(rec.joined, cid)
	emptied := m.rooms.Leave(domain.CallRoom(callID), cid)
	res := LeaveResult{User: member.User, Left: true, Reason: reason}
	if emptied || len(rec.joined) == 0 {
		m.endLocked(rec, reason)
		res.Ended = true
		res.Former = former
		res.Duration = m.now().Sub(rec.createdAt)
	}
	res.Call = rec.snapshot()
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("conn", string(cid)).Str("reason", reason).Bool("ended", res.Ended).Msg("left call")
	return res
}

// End forces every member out and deletes the call.
func (m *CallManager) End(callID domain.CallID, reason string) (LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return LeaveResult{}, Errorf(CodeUnknownCall, "no live call %s", callID)
	}
	return m.forceEndLocked(rec, reason), nil
}

func (m *CallManager) forceEndLocked(rec *callRecord, reason string) LeaveResult {
	former := rec.conns()
	for _, cid := range former {
		m.rooms.Leave(domain.CallRoom(rec.id), cid)
		delete(rec.joined, cid)
	}
	m.endLocked(rec, reason)
	return LeaveResult{
		Call:     rec.snapshot(),
		Left:     len(former) > 0,
		Ended:    true,
		Former:   former,
		Duration: m.now().Sub(rec.createdAt),
		Reason:   reason,
	}
}

func (m *CallManager) endLocked(rec *callRecord, reason string) {
	rec.status = domain.CallEnded
	delete(m.calls, rec.id)
	log.Info().Str("module", "app.calls").Str("call", string(rec.id)).Str("reason", reason).Dur("duration", m.now().Sub(rec.createdAt)).Msg("call ended")
}

// ValidateRelay checks that both users are declared participants of a live call.
func (m *CallManager) ValidateRelay(callID domain.CallID, from, to domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return Errorf(CodeUnknownCall, "no live call %s", callID)
	}
	if _, ok := rec.declared[from]; !ok {
		return Errorf(CodeUnknownCall, "%s is not a participant of %s", from, callID)
	}
	if _, ok := rec.declared[to]; !ok {
		return Errorf(CodeUnknownCall, "%s is not a participant of %s", to, callID)
	}
	return nil
}

// RequireMember checks that cid has joined a live call.
func (m *CallManager) RequireMember(callID domain.CallID, cid core.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return Errorf(CodeUnknownCall, "no live call %s", callID)
	}
	if _, ok := rec.joined[cid]; !ok {
		return Errorf(CodeInvalidCallRequest, "not joined to %s", callID)
	}
	return nil
}

func (m *CallManager) Get(callID domain.CallID) (domain.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return domain.Call{}, false
	}
	return rec.snapshot(), true
}

func (m *CallManager) List() []domain.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Call, 0, len(m.calls))
	for _, rec := range m.calls {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *CallManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reap ends calls that have had no live member for longer than grace.
func (m *CallManager) Reap(grace time.Duration, live func(core.ConnID) bool) []LeaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var ended []LeaveResult
	for _, rec := range m.calls {
		alive := false
		for cid := range rec.joined {
			if live(cid) {
				alive = true
				break
			}
		}
		if alive {
			rec.lastLive = now
			continue
		}
		if now.Sub(rec.lastLive) > grace {
			ended = append(ended, m.forceEndLocked(rec, ReasonTimeout))
		}
	}
	return ended
}

func containsUser(list []domain.UserID, id domain.UserID) bool {
	for _, u := range list {
		if u == id {
			return true
		}
	}
	return false
}
