package app

import (
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bothMedia = domain.MediaFlags{Video: true, Audio: true}

func newTestCalls(t *testing.T) (*CallManager, *RoomManagerImpl, *time.Time) {
	t.Helper()
	rooms := NewRoomManager()
	m := NewCallManager(rooms)
	now := time.Unix(5000, 0)
	m.now = func() time.Time { return now }
	return m, rooms, &now
}

func TestCallManager_JoinRejectsUndeclared(t *testing.T) {
	m, rooms, _ := newTestCalls(t)

	_, err := m.Join("k1", "C", "cC", []domain.UserID{"A", "B"}, bothMedia)
	assert.ErrorIs(t, err, ErrInvalidCallRequest)
	assert.Equal(t, 0, m.Count(), "failed first join must not create the call")

	_, err = m.Join("k1", "A", "cA", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)
	_, err = m.Join("k1", "C", "cC", []domain.UserID{"A", "B", "C"}, bothMedia)
	assert.ErrorIs(t, err, ErrInvalidCallRequest, "participants are fixed by the creating join")
	assert.ElementsMatch(t, []core.ConnID{"cA"}, rooms.MembersOf(domain.CallRoom("k1")))

	_, err = m.Join("", "A", "cA", []domain.UserID{"A"}, bothMedia)
	assert.ErrorIs(t, err, ErrInvalidCallRequest)
}

func TestCallManager_JoinAndRejoin(t *testing.T) {
	m, _, _ := newTestCalls(t)

	res, err := m.Join("k1", "A", "cA", []domain.UserID{"A", "B", "A"}, bothMedia)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []domain.UserID{"A", "B"}, res.Call.Participants)
	assert.Equal(t, domain.CallActive, res.Call.Status)

	res, err = m.Join("k1", "A", "cA", nil, bothMedia)
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Len(t, res.Call.Members, 1)

	res, err = m.Join("k1", "B", "cB", nil, domain.MediaFlags{Audio: true})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Len(t, res.Call.Members, 2)
	assert.True(t, res.Call.HasParticipant("B"))
	assert.False(t, res.Call.HasParticipant("C"))
}

func TestCallManager_LastLeaveEndsCall(t *testing.T) {
	m, rooms, now := newTestCalls(t)
	_, err := m.Join("k1", "A", "cA", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)
	_, err = m.Join("k1", "B", "cB", nil, bothMedia)
	require.NoError(t, err)

	res := m.Leave("k1", "cA", ReasonLeft)
	assert.True(t, res.Left)
	assert.False(t, res.Ended)
	assert.Equal(t, domain.UserID("A"), res.User)

	*now = now.Add(30 * time.Second)
	res = m.Leave("k1", "cB", ReasonDisconnected)
	assert.True(t, res.Ended)
	assert.Equal(t, []core.ConnID{"cB"}, res.Former)
	assert.Equal(t, 30*time.Second, res.Duration)
	assert.Equal(t, ReasonDisconnected, res.Reason)
	assert.Equal(t, domain.CallEnded, res.Call.Status)

	_, ok := m.Get("k1")
	assert.False(t, ok)
	assert.Empty(t, rooms.MembersOf(domain.CallRoom("k1")))

	res = m.Leave("k1", "cB", ReasonLeft)
	assert.False(t, res.Left)
	assert.False(t, res.Ended)
}

func TestCallManager_End(t *testing.T) {
	m, rooms, _ := newTestCalls(t)
	_, err := m.End("nope", ReasonEnded)
	assert.ErrorIs(t, err, ErrUnknownCall)

	_, err = m.Join("k1", "A", "cA", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)
	_, err = m.Join("k1", "B", "cB", nil, bothMedia)
	require.NoError(t, err)

	res, err := m.End("k1", ReasonEnded)
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.ElementsMatch(t, []core.ConnID{"cA", "cB"}, res.Former)
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, rooms.RoomsOf("cA"))
}

func TestCallManager_ValidateRelay(t *testing.T) {
	m, _, _ := newTestCalls(t)
	assert.ErrorIs(t, m.ValidateRelay("k1", "A", "B"), ErrUnknownCall)

	_, err := m.Join("k1", "A", "cA", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)
	assert.NoError(t, m.ValidateRelay("k1", "A", "B"), "B need not have joined yet")
	assert.ErrorIs(t, m.ValidateRelay("k1", "A", "C"), ErrUnknownCall)
	assert.ErrorIs(t, m.ValidateRelay("k1", "C", "A"), ErrUnknownCall)

	assert.NoError(t, m.RequireMember("k1", "cA"))
	assert.ErrorIs(t, m.RequireMember("k1", "cB"), ErrInvalidCallRequest)
	assert.ErrorIs(t, m.RequireMember("k2", "cA"), ErrUnknownCall)
}

func TestCallManager_Reap(t *testing.T) {
	m, _, now := newTestCalls(t)
	_, err := m.Join("k1", "A", "cA", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)
	_, err = m.Join("k2", "B", "cB", []domain.UserID{"A", "B"}, bothMedia)
	require.NoError(t, err)

	alive := map[core.ConnID]bool{"cA": true}
	live := func(cid core.ConnID) bool { return alive[cid] }

	*now = now.Add(time.Minute)
	assert.Empty(t, m.Reap(2*time.Minute, live), "grace not yet exceeded")

	*now = now.Add(2 * time.Minute)
	ended := m.Reap(2*time.Minute, live)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.CallID("k2"), ended[0].Call.ID)
	assert.Equal(t, ReasonTimeout, ended[0].Reason)
	assert.Equal(t, []core.ConnID{"cB"}, ended[0].Former)

	_, ok := m.Get("k1")
	assert.True(t, ok)
}
