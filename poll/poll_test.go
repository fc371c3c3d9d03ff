//go:build linux

package poll_test

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshatrov/gomary/poll"
	"github.com/dshatrov/gomary/threadctx"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// noopFrontend satisfies poll.Frontend without requesting extra
// iterations.
type noopFrontend struct{}

func (noopFrontend) PollIterationBegin()      {}
func (noopFrontend) PollIterationEnd() bool   { return false }

type noopDeferred struct{}

func (noopDeferred) Process() bool { return false }

var _ = Describe("PollGroup", func() {
	var (
		lc   *threadctx.Local
		pg   *poll.PollGroup
		r, w int
	)

	BeforeEach(func() {
		lc = threadctx.New("test")
		var err error
		pg, err = poll.New()
		Expect(err).NotTo(HaveOccurred())
		pg.Bind(lc)

		var fds [2]int
		Expect(unix.Pipe2(fds[:], unix.O_NONBLOCK)).To(Succeed())
		r, w = fds[0], fds[1]
	})

	AfterEach(func() {
		unix.Close(w)
		pg.Unref(lc)
	})

	It("delivers Input when the fd becomes readable", func() {
		var gotEvents poll.Events
		key, err := pg.AddPollable(poll.Desc{
			Fd:    r,
			Input: true,
			OnEvents: func(ev poll.Events, fb *poll.Feedback) {
				gotEvents = ev
			},
		}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).NotTo(BeEmpty())

		_, err = unix.Write(w, []byte("x"))
		Expect(err).NotTo(HaveOccurred())

		_, err = pg.Poll(lc, 200*time.Millisecond, noopFrontend{}, noopDeferred{})
		Expect(err).NotTo(HaveOccurred())
		Expect(gotEvents.Has(poll.Input)).To(BeTrue())

		unix.Read(r, make([]byte, 1))
		unix.Close(r)
	})

	It("wakes a blocked Poll via Trigger from another goroutine", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			pg.Poll(lc, 5*time.Second, noopFrontend{}, noopDeferred{})
		}()

		// give Poll a moment to enter EpollWait before triggering
		time.Sleep(50 * time.Millisecond)
		pg.Trigger(nil)

		Eventually(func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, time.Second).Should(BeTrue())
		unix.Close(r)
	})
})
