package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dkeye/Presence/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collect struct {
	mu      sync.Mutex
	records []Record
}

func (c *collect) Record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *collect) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestRedisSink_AppendsToStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sink, err := NewRedisSink(context.Background(), RedisConfig{Addr: mr.Addr(), Stream: "test:audit"})
	require.NoError(t, err)
	defer sink.Close()

	sink.Record(Record{Kind: KindCallEnd, At: time.Unix(100, 0).UTC(), User: "A", Call: "k1", Reason: "left", Duration: time.Second})

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	msgs, err := client.XRange(context.Background(), "test:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_end", msgs[0].Values["kind"])

	var got Record
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["record"].(string)), &got))
	assert.Equal(t, "k1", string(got.Call))
	assert.Equal(t, time.Second, got.Duration)
}

func TestRedisSink_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisSink(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestMetricsSink(t *testing.T) {
	m := metrics.New("test")
	sink := NewMetricsSink(m)
	sink.Record(Record{Kind: KindConnect})
	sink.Record(Record{Kind: KindConnect})
	sink.Record(Record{Kind: KindAuthFailure})
	sink.Record(Record{Kind: KindCallEnd, Reason: "timeout", Duration: 3 * time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsEnded.WithLabelValues("timeout")))
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	next := &collect{}
	a := NewAsync(next, 16)
	a.Start(context.Background())
	for i := 0; i < 10; i++ {
		a.Record(Record{Kind: KindConnect})
	}
	a.Close()
	assert.Equal(t, 10, next.len())

	a.Record(Record{Kind: KindConnect})
	assert.Equal(t, 10, next.len(), "records after Close are ignored")
}

func TestAsync_DropsWhenFull(t *testing.T) {
	next := &collect{}
	a := NewAsync(next, 2)
	// not started: nothing consumes the queue
	for i := 0; i < 5; i++ {
		a.Record(Record{Kind: KindDisconnect})
	}
	assert.Equal(t, uint64(3), a.Dropped())
}

func TestMulti(t *testing.T) {
	a, b := &collect{}, &collect{}
	Multi{a, Nop{}, b}.Record(Record{Kind: KindOnline})
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())
}
