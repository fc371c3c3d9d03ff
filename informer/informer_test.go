package informer_test

import (
	"github.com/dshatrov/gomary/informer"
	"github.com/dshatrov/gomary/threadctx"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Informer", func() {
	var lc *threadctx.Local

	BeforeEach(func() {
		lc = threadctx.New("test")
	})

	It("notifies every registered subscriber", func() {
		inf := informer.New[func()]()
		var calls []int
		inf.Reg(lc, func() { calls = append(calls, 1) })
		inf.Reg(lc, func() { calls = append(calls, 2) })

		inf.Notify(lc, func(sub func()) { sub() })
		Expect(calls).To(ConsistOf(1, 2))
	})

	It("skips a subscriber unregistered before Notify runs", func() {
		inf := informer.New[func()]()
		called := false
		key := inf.Reg(lc, func() { called = true })
		inf.Unreg(lc, key)

		inf.Notify(lc, func(sub func()) { sub() })
		Expect(called).To(BeFalse())
		Expect(inf.Len(lc)).To(Equal(0))
	})

	It("skips a subscriber that another subscriber unregisters mid-traversal", func() {
		inf := informer.New[func()]()
		var secondKey string
		var calls []string

		firstKey := inf.Reg(lc, func() {})
		secondKey = inf.Reg(lc, func() { calls = append(calls, "second") })
		_ = firstKey

		inf.Notify(lc, func(sub func()) {
			inf.Unreg(lc, secondKey) // unregister the *other* subscriber mid-traversal
			sub()
		})

		// "second" was tombstoned before Notify reached it, so it must not
		// have fired even though it was present when the traversal began.
		Expect(calls).NotTo(ContainElement("second"))
		Expect(inf.Len(lc)).To(Equal(1))
	})

	It("does not include a subscriber registered during a traversal in that same traversal", func() {
		inf := informer.New[func()]()
		var calls []string

		inf.Reg(lc, func() {
			calls = append(calls, "first")
			inf.Reg(lc, func() { calls = append(calls, "late") })
		})

		inf.Notify(lc, func(sub func()) { sub() })
		Expect(calls).To(Equal([]string{"first"}))
		Expect(inf.Len(lc)).To(Equal(2))
	})
})
