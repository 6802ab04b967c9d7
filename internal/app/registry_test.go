package app

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func ident(id string) domain.Identity {
	return domain.Identity{ID: domain.UserID(id), Role: domain.RoleStudent}
}

func TestRegistry_MultiDevicePresence(t *testing.T) {
	r := NewRegistry()

	online, err := r.Register(ident("u1"), "c1", nopSignal{})
	require.NoError(t, err)
	assert.True(t, online)

	online, err = r.Register(ident("u1"), "c2", nopSignal{})
	require.NoError(t, err)
	assert.False(t, online, "second device must not signal online again")
	assert.ElementsMatch(t, []core.ConnID{"c1", "c2"}, r.ConnectionsFor("u1"))

	_, offline, ok := r.Unregister("c1")
	assert.True(t, ok)
	assert.False(t, offline)
	assert.True(t, r.IsOnline("u1"))

	id, offline, ok := r.Unregister("c2")
	assert.True(t, ok)
	assert.True(t, offline)
	assert.Equal(t, domain.UserID("u1"), id.ID)
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.ConnectionsFor("u1"))

	_, offline, ok = r.Unregister("c2")
	assert.False(t, ok)
	assert.False(t, offline)
	assert.NoError(t, r.Verify())
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(ident("u1"), "c1", nopSignal{})
	require.NoError(t, err)
	_, err = r.Register(ident("u2"), "c1", nopSignal{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	id, ok := r.IdentityOf("c1")
	assert.True(t, ok)
	assert.Equal(t, domain.UserID("u1"), id.ID)
}

func TestRegistry_LiveAndTouch(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	_, err := r.Register(ident("u1"), "c1", nopSignal{})
	require.NoError(t, err)

	now = now.Add(90 * time.Second)
	assert.False(t, r.Live("c1", time.Minute))
	r.Touch("c1")
	assert.True(t, r.Live("c1", time.Minute))

	info, ok := r.Info("c1")
	require.True(t, ok)
	assert.Equal(t, now, info.LastSeen)
	assert.Equal(t, time.Unix(1000, 0), info.ConnectedAt)
	assert.False(t, r.Live("missing", time.Hour))
}

func TestRegistry_RandomSequenceStaysConsistent(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewSource(7))
	live := map[core.ConnID]domain.UserID{}
	onlineCount := map[domain.UserID]int{}

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			cid := core.ConnID(fmt.Sprintf("c%d", i))
			uid := domain.UserID(fmt.Sprintf("u%d", rng.Intn(8)))
			online, err := r.Register(ident(string(uid)), cid, nopSignal{})
			require.NoError(t, err)
			assert.Equal(t, onlineCount[uid] == 0, online)
			live[cid] = uid
			onlineCount[uid]++
		} else {
			var cid core.ConnID
			for c := range live {
				cid = c
				break
			}
			uid := live[cid]
			_, offline, ok := r.Unregister(cid)
			require.True(t, ok)
			onlineCount[uid]--
			assert.Equal(t, onlineCount[uid] == 0, offline)
			delete(live, cid)
		}
		require.NoError(t, r.Verify())
	}
	assert.Equal(t, len(live), r.ConnCount())
}
