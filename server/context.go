// Package server implements the worker-thread side of spec §4.3/§9:
// one Context per worker goroutine bundling a PollGroup, a Timers
// instance, a DeferredProcessor and a sender DeferredQueue — spec
// §9's "Global mutable state" design note, realized (per SPEC_FULL)
// as an explicit per-goroutine value rather than real thread-local
// storage — plus an App that owns a fixed pool of them and assigns
// new connections round-robin, grounded on the teacher's `cos.Runner`
// pattern (transport/collect.go's StreamCollector) and its own
// worker-pool coordination via golang.org/x/sync/errgroup.
package server

import (
	"sync/atomic"
	"time"

	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/cmn/mono"
	"github.com/dshatrov/gomary/cmn/nlog"
	"github.com/dshatrov/gomary/deferred"
	"github.com/dshatrov/gomary/pagepool"
	"github.com/dshatrov/gomary/poll"
	"github.com/dshatrov/gomary/sender"
	"github.com/dshatrov/gomary/threadctx"
	"github.com/dshatrov/gomary/timers"
)

// DefaultMaxSleep bounds how long a single Poll call may block even
// with no timer pending, so Context.Run always wakes up often enough
// to notice Stop.
const DefaultMaxSleep = 1 * time.Second

var _ cos.Runner = (*Context)(nil)

// Metrics is the union of the narrow metrics interfaces poll.PollGroup,
// timers.Timers, and sender.DeferredQueue each accept. *stats.WorkerMetrics
// satisfies it; it is spelled out here, rather than imported from stats,
// so server does not force a Prometheus dependency on callers that don't
// want metrics.
type Metrics interface {
	poll.Metrics
	timers.Metrics
	sender.Metrics
}

// WireMetrics hooks m into every metrics-emitting component of c. Call
// once, before Run.
func (c *Context) WireMetrics(m Metrics) {
	c.Poll.SetMetrics(m)
	c.Timers.SetMetrics(m)
	c.Senders.SetMetrics(m)
}

// Context is one worker's CORE bundle: everything spec §4.3-§4.8
// describes as living on one thread, gathered into a value instead of
// scattered across real TLS.
type Context struct {
	name string

	Local   *threadctx.Local
	Poll    *poll.PollGroup
	Timers  *timers.Timers
	Proc    *deferred.Processor
	Senders *sender.DeferredQueue
	Pages   *pagepool.PagePool

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewContext builds one worker bundle. pp is shared across every
// Context in an App (page pool sharing is spec §4.8's point: messages
// routinely cross connections, e.g. broadcast, without copying).
func NewContext(name string, pp *pagepool.PagePool) (*Context, error) {
	pg, err := poll.New()
	if err != nil {
		return nil, err
	}

	c := &Context{
		name:    name,
		Local:   threadctx.New(name),
		Poll:    pg,
		Senders: sender.NewDeferredQueue(),
		Pages:   pp,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.Proc = deferred.New(pg)
	c.Timers = timers.New(func() { pg.Trigger(c.Local) })
	pg.Bind(c.Local)
	return c, nil
}

func (c *Context) Name() string { return c.name }

// PollIterationBegin refreshes the per-iteration time cache (spec §6)
// before any pollable callback or deferred task runs.
func (c *Context) PollIterationBegin() {
	c.Local.RefreshTime(mono.NanoTime())
}

// PollIterationEnd fires due timers and drains the sender queue,
// reporting true (an immediate next iteration rather than waiting out
// the next Poll timeout) if any timer fired or a sender is still queued
// after the drain.
func (c *Context) PollIterationEnd() bool {
	firedTimers := c.Timers.Process()
	c.Senders.Drain(c.Local)
	return firedTimers || c.Senders.Len() > 0
}

// Run executes the worker's event loop until Stop is called. Satisfies
// cos.Runner.
func (c *Context) Run() error {
	c.started.Store(true)
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		timeout := DefaultMaxSleep
		if us := c.Timers.GetSleepTimeMicroseconds(); us >= 0 {
			if d := time.Duration(us) * time.Microsecond; d < timeout {
				timeout = d
			}
		}

		if _, err := c.Poll.Poll(c.Local, timeout, c, c.Proc); err != nil {
			nlog.Errorf("server: %s: poll iteration failed: %v", c.name, err)
		}
	}
}

// Stop signals Run to exit, wakes its blocked Poll call immediately,
// and waits until it has returned. Satisfies cos.Runner. Called from
// the App's coordinating goroutine, never from c itself — so the
// Trigger below always takes the cross-goroutine self-pipe path. If
// Run was never started (e.g. a sibling worker failed construction
// before the pool launched), there is no loop to wait for, so Stop
// just releases the PollGroup directly rather than blocking on a done
// channel nothing will ever close.
func (c *Context) Stop(err error) {
	if err != nil {
		nlog.Warningf("server: %s: stopping on error: %v", c.name, err)
	}
	close(c.stop)
	if !c.started.Load() {
		c.Poll.Unref(c.Local)
		return
	}
	c.Poll.Trigger(nil)
	<-c.done
	c.Poll.Unref(c.Local)
}
