//go:build linux

package server_test

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshatrov/gomary/server"
	"github.com/dshatrov/gomary/stats"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("App", func() {
	It("starts every worker and Stop makes Run return", func() {
		a, err := server.NewApp("test", 3, 4096, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.NumWorkers()).To(Equal(3))

		done := make(chan error, 1)
		go func() { done <- a.Run() }()

		Consistently(done, 100*time.Millisecond).ShouldNot(Receive())
		a.Stop(nil)
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})

	It("distributes Next() round-robin across workers", func() {
		a, err := server.NewApp("test", 4, 4096, 4)
		Expect(err).NotTo(HaveOccurred())

		seen := map[*server.Context]int{}
		for i := 0; i < 8; i++ {
			seen[a.Next()]++
		}
		Expect(seen).To(HaveLen(4))
		for _, n := range seen {
			Expect(n).To(Equal(2))
		}

		done := make(chan error, 1)
		go func() { done <- a.Run() }()
		time.Sleep(50 * time.Millisecond) // let workers enter their first Poll
		a.Stop(nil)
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})

	It("records a poll-iteration observation per worker once wired to a Collector", func() {
		a, err := server.NewApp("test", 2, 4096, 4)
		Expect(err).NotTo(HaveOccurred())

		reg := prometheus.NewRegistry()
		collector := stats.New(reg)
		a.WireMetrics(func(worker string) server.Metrics { return collector.ForWorker(worker) })

		done := make(chan error, 1)
		go func() { done <- a.Run() }()
		time.Sleep(50 * time.Millisecond) // let every worker enter its first Poll; Stop's trigger completes it
		a.Stop(nil)
		Eventually(done, time.Second).Should(Receive(BeNil()))

		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		var found bool
		for _, f := range families {
			if f.GetName() == "gomary_poll_iteration_ns" {
				found = true
				Expect(f.Metric).To(HaveLen(2), "one series per worker")
				for _, m := range f.Metric {
					Expect(m.GetHistogram().GetSampleCount()).To(BeNumerically(">=", 1))
				}
			}
		}
		Expect(found).To(BeTrue())
	})
})
