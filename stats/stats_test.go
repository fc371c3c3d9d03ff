package stats_test

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dshatrov/gomary/stats"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func gather(reg *prometheus.Registry, name string) *dto.MetricFamily {
	families, err := reg.Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

var _ = Describe("Collector", func() {
	var (
		reg *prometheus.Registry
		c   *stats.Collector
		w   *stats.WorkerMetrics
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		c = stats.New(reg)
		w = c.ForWorker("w0")
	})

	It("records a poll iteration observation under the worker label", func() {
		w.ObservePollIteration(5 * time.Microsecond)

		f := gather(reg, "gomary_poll_iteration_ns")
		Expect(f).NotTo(BeNil())
		Expect(f.Metric).To(HaveLen(1))
		Expect(f.Metric[0].GetHistogram().GetSampleCount()).To(BeNumerically("==", 1))
		Expect(f.Metric[0].GetLabel()[0].GetValue()).To(Equal("w0"))
	})

	It("increments the timer-fired counter per observation", func() {
		w.ObserveTimerFired()
		w.ObserveTimerFired()

		f := gather(reg, "gomary_timers_fired_n")
		Expect(f).NotTo(BeNil())
		Expect(f.Metric[0].GetCounter().GetValue()).To(BeNumerically("==", 2))
	})

	It("sets the queue-depth gauge to the last observed value", func() {
		w.ObserveQueueDepth(3)
		w.ObserveQueueDepth(1)

		f := gather(reg, "gomary_sender_queue_depth")
		Expect(f).NotTo(BeNil())
		Expect(f.Metric[0].GetGauge().GetValue()).To(BeNumerically("==", 1))
	})

	It("keeps separate series per worker", func() {
		w.ObserveQueueDepth(3)
		c.ForWorker("w1").ObserveQueueDepth(7)

		f := gather(reg, "gomary_sender_queue_depth")
		Expect(f.Metric).To(HaveLen(2))
	})
})
