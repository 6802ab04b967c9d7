package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Async decouples slow sinks from callers through a bounded queue.
// Records are dropped, not queued without bound, when it is full.
type Async struct {
	next  Sink
	queue chan Record
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	return &Async{next: next, queue: make(chan Record, buffer)}
}

func (a *Async) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case r, ok := <-a.queue:
				if !ok {
					return
				}
				a.next.Record(r)
			}
		}
	}()
}

func (a *Async) drain() {
	for {
		select {
		case r, ok := <-a.queue:
			if !ok {
				return
			}
			a.next.Record(r)
		default:
			return
		}
	}
}

func (a *Async) Record(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- r:
	default:
		a.dropped++
		log.Warn().Str("module", "audit").Str("kind", string(r.Kind)).Uint64("dropped", a.dropped).Msg("audit queue full, dropping record")
	}
}

func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting records and waits for the queue to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
