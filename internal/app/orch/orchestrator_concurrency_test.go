package orch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with -race: workers share a handful of identities and call ids, so
// joins, relays, reaps and disconnects interleave on the same records.
func TestOrchestrator_ConcurrentLifecycles(t *testing.T) {
	const (
		workers    = 32
		cycles     = 50
		identities = 8
		callIDs    = 4
	)
	verifier := tokenVerifier{}
	users := make([]string, identities)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
		verifier["t"+users[i]] = domain.Identity{ID: domain.UserID(users[i]), Role: domain.RoleStudent}
	}
	participants := `["` + users[0]
	for _, u := range users[1:] {
		participants += `","` + u
	}
	participants += `"]`

	o := New(Options{Verifier: verifier, PresenceBroadcast: true, CallGracePeriod: time.Minute})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := users[w%identities]
			peer := users[(w+1)%identities]
			for i := 0; i < cycles; i++ {
				cid := core.ConnID(fmt.Sprintf("w%d-c%d", w, i))
				callID := fmt.Sprintf("k%d", (w+i)%callIDs)

				id, err := o.Authenticate("t"+user, ConnMeta{})
				if !assert.NoError(t, err) {
					return
				}
				if !assert.NoError(t, o.OnConnect(id, cid, &recorder{}, ConnMeta{})) {
					return
				}
				send(o, cid, "join_call", `{"callId":"`+callID+`","participants":`+participants+`}`)
				send(o, cid, "webrtc_offer", `{"callId":"`+callID+`","targetUserId":"`+peer+`","offer":{"type":"offer","sdp":"v=0"}}`)
				send(o, cid, "send_message", `{"recipientId":"`+peer+`","message":"hi"}`)
				if i%5 == 0 {
					send(o, cid, "leave_call", `{"callId":"`+callID+`"}`)
				}
				o.Reap()
				o.OnDisconnect(cid)
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, o.Registry.Verify())
	assert.Equal(t, 0, o.Calls.Count())
	assert.Empty(t, o.Rooms.List())
	assert.Empty(t, o.Registry.OnlineUsers())
	assert.Equal(t, 0, o.Registry.ConnCount())
}
