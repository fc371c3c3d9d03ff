package sender

import (
	"sync"

	"github.com/dshatrov/gomary/cmn/nlog"
	"github.com/dshatrov/gomary/threadctx"
)

// Metrics receives the queue's pending-sender count after every
// Drain; satisfied by *stats.WorkerMetrics. Kept narrow, like
// poll.Metrics and timers.Metrics, so this package does not need to
// import Prometheus.
type Metrics interface {
	ObserveQueueDepth(n int)
}

// DeferredQueue is the deferred sender queue from spec §4.4: a
// per-thread-context set of senders that currently have output
// pending, drained once per poll iteration. Modeled on the teacher's
// transport/collect.go collector.do() drain loop — snapshot the
// pending set, process it outside the queue's own lock, and whatever
// re-posts itself during that pass waits for the next Drain rather
// than being processed again in this one (the same "barrier against
// a single iteration's own output" idea Sender.MarkBarrier applies
// per-connection, applied here across connections).
type DeferredQueue struct {
	mu         sync.Mutex
	pending    []*Sender
	processing bool
	metrics    Metrics
}

func NewDeferredQueue() *DeferredQueue {
	return &DeferredQueue{}
}

// SetMetrics arranges for m to observe this queue's pending-sender
// count after every Drain. Pass nil to disable.
func (q *DeferredQueue) SetMetrics(m Metrics) {
	q.mu.Lock()
	q.metrics = m
	q.mu.Unlock()
}

// Enqueue adds s to the queue if it is not already on it. Safe to
// call from PostMessage's caller, from WritePending's own Partial/
// BarrierHit return, or from a writability callback.
func (q *DeferredQueue) Enqueue(s *Sender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s.inDeferredQ {
		return
	}
	s.inDeferredQ = true
	q.pending = append(q.pending, s)
}

// Drain runs one WritePending pass over every sender that was pending
// at the moment Drain was called. A sender that remains non-empty
// afterward (Partial or BarrierHit) is re-enqueued for the next
// Drain; the re-entry guard means a sender re-enqueuing itself mid-
// drain (from inside WritePending's own notification callbacks) joins
// the next Drain's snapshot, not this one.
func (q *DeferredQueue) Drain(lc *threadctx.Local) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, s := range batch {
		q.mu.Lock()
		s.inDeferredQ = false
		q.mu.Unlock()

		s.MarkBarrier(lc)
		status, err := s.WritePending(lc)
		switch status {
		case Partial, BarrierHit:
			q.Enqueue(s)
		case WriteError:
			nlog.Warningf("sender: %s: write failed, closing: %v", s.Name(), err)
			s.Close(lc)
		}
	}

	q.mu.Lock()
	q.processing = false
	depth := len(q.pending)
	metrics := q.metrics
	q.mu.Unlock()

	if metrics != nil {
		metrics.ObserveQueueDepth(depth)
	}
}

// Len reports how many senders are currently pending a drain pass.
func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
