package object_test

import (
	"github.com/dshatrov/gomary/threadctx"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("mutual deletion subscriptions", func() {
	var lc *threadctx.Local

	BeforeEach(func() {
		lc = threadctx.New("test")
	})

	// a.AddDeletionCallback(cbOnB, guard=b) and b.AddDeletionCallback(cbOnA, guard=a);
	// dropping a's last reference destroys a. cbOnB is a's own deletion
	// callback (guarded by b, which is still alive) so it must fire
	// normally; cbOnA belongs to b (which is not being destroyed) but
	// is guarded by a, so a's death must cancel it before b itself ever
	// sees it fire. See DESIGN.md for why this reading was chosen over
	// the spec's literal (self-contradictory) wording.
	It("fires the dying side's callback and cancels the guard side's", func() {
		a := newNode("a", nil)
		b := newNode("b", nil)

		bCalls, aCalls := 0, 0
		a.AddDeletionCallback(func(any) { bCalls++ }, b)
		b.AddDeletionCallback(func(any) { aCalls++ }, a)

		a.Unref(lc)

		Expect(bCalls).To(Equal(1), "a's own deletion callback must fire when a dies")
		Expect(aCalls).To(Equal(0), "b's callback, guarded by the now-dead a, must be cancelled")

		b.Unref(lc)
		Expect(aCalls).To(Equal(0), "b's own destruction must not resurrect the cancelled subscription")
	})

	It("passes the guard's secured strong reference into the callback", func() {
		b := newNode("b", nil)
		a := newNode("a", nil)

		var seen any
		a.AddDeletionCallback(func(guard any) { seen = guard }, b)
		a.Unref(lc)

		Expect(seen).To(BeIdenticalTo(b))
		b.Unref(lc)
	})

	It("cancels a subscription if its guard dies first", func() {
		a := newNode("a", nil)
		b := newNode("b", nil)

		fired := false
		a.AddDeletionCallback(func(any) { fired = true }, b)

		b.Unref(lc) // guard dies before the target
		Expect(fired).To(BeFalse())

		a.Unref(lc)
		Expect(fired).To(BeFalse(), "the guard's death must have permanently cancelled this subscription")
	})
})
