//go:build linux

package server_test

import (
	"sync/atomic"
	"time"

	"github.com/dshatrov/gomary/pagepool"
	"github.com/dshatrov/gomary/sender"
	"github.com/dshatrov/gomary/server"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// stubWriter always reports every byte written; context_test is about
// the worker loop's wiring, not writev mechanics (sender already has
// its own fill/react coverage).
type stubWriter struct{}

func (stubWriter) Writev(bufs [][]byte) (int, error) {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n, nil
}

type stubFrontend struct{ states int32 }

func (f *stubFrontend) SendStateChanged(sender.SendState) { atomic.AddInt32(&f.states, 1) }
func (f *stubFrontend) Closed()                           {}

var _ = Describe("Context", func() {
	var (
		pp *pagepool.PagePool
		c  *server.Context
	)

	BeforeEach(func() {
		pp = pagepool.New(4096, 4)
		var err error
		c, err = server.NewContext("test", pp)
		Expect(err).NotTo(HaveOccurred())
	})

	It("runs until Stop returns", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			Expect(c.Run()).To(Succeed())
		}()

		Consistently(done, 100*time.Millisecond).ShouldNot(BeClosed())
		c.Stop(nil)
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("PollIterationEnd drains a pending sender and then reports no more work", func() {
		reg := c.Proc.NewRegistration()
		front := &stubFrontend{}
		s := sender.New(stubWriter{}, pp, reg, front, 10, 20)
		s.PostMessage(c.Local, sender.NewMessage([]byte("hi"), pagepool.PageListHead{}))
		c.Senders.Enqueue(s)

		Expect(c.PollIterationEnd()).To(BeFalse(), "the only queued sender was fully drained, no timers fired")
		Expect(c.Senders.Len()).To(Equal(0), "WritePending should have drained the one queued message")

		Expect(c.PollIterationEnd()).To(BeFalse(), "nothing left pending, no timers due")

		// Run was never started here; release the poll fd directly, as
		// Stop itself does for a Context whose Run never started.
		c.Poll.Unref(c.Local)
	})
})
