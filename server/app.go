package server

import (
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshatrov/gomary/cmn/cos"
	"github.com/dshatrov/gomary/pagepool"
)

var _ cos.Runner = (*App)(nil)

// App owns a fixed pool of worker Contexts and assigns newly accepted
// connections to them round-robin. One errgroup.Group coordinates
// startup/shutdown the way the teacher's own Runner-based components
// (transport.StreamCollector) are orchestrated by a single outer
// runner, generalized here to N uniform workers instead of one.
type App struct {
	name string
	pp   *pagepool.PagePool

	contexts []*Context
	next     atomic.Uint64
}

// NewApp builds an App with numWorkers worker Contexts sharing one
// PagePool of the given page size and spare-pool floor.
func NewApp(name string, numWorkers int, pageSize int, minPages int64) (*App, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	pp := pagepool.New(pageSize, minPages)

	a := &App{name: name, pp: pp}
	for i := 0; i < numWorkers; i++ {
		c, err := NewContext(workerName(name, i), pp)
		if err != nil {
			for _, existing := range a.contexts {
				existing.Stop(nil)
			}
			return nil, err
		}
		a.contexts = append(a.contexts, c)
	}
	return a, nil
}

func workerName(appName string, i int) string {
	return appName + "-worker-" + strconv.Itoa(i)
}

// MetricsFactory builds the Metrics handle for one named worker;
// *stats.Collector's ForWorker method has exactly this shape.
type MetricsFactory func(worker string) Metrics

// WireMetrics hooks mf(c.Name()) into every worker Context in a. Call
// once, before Run.
func (a *App) WireMetrics(mf MetricsFactory) {
	for _, c := range a.contexts {
		c.WireMetrics(mf(c.Name()))
	}
}

func (a *App) Name() string { return a.name }

// NumWorkers reports the size of the worker pool.
func (a *App) NumWorkers() int { return len(a.contexts) }

// Pages returns the PagePool shared by every worker Context, so a
// caller building a Sender/Receiver pair for a newly accepted
// connection can hand it the same pool its assigned worker uses.
func (a *App) Pages() *pagepool.PagePool { return a.pp }

// Next returns the next Context in round-robin order, the thread-
// selection policy spec §9 leaves as an implementation choice for new
// connections.
func (a *App) Next() *Context {
	i := a.next.Add(1) - 1
	return a.contexts[i%uint64(len(a.contexts))]
}

// Run starts every worker Context and blocks until all of them have
// returned (normally only on Stop), returning the first non-nil
// error, satisfying cos.Runner.
func (a *App) Run() error {
	var g errgroup.Group
	for _, c := range a.contexts {
		c := c
		g.Go(c.Run)
	}
	return g.Wait()
}

// Stop stops every worker Context and waits for Run to return.
// Satisfies cos.Runner.
func (a *App) Stop(err error) {
	for _, c := range a.contexts {
		c.Stop(err)
	}
}
