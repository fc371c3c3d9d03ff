package object_test

import (
	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/threadctx"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// node is the smallest possible HasCore implementer, used throughout
// this suite in place of any real CORE type.
type node struct {
	object.Object
	onDtor func()
}

func newNode(name string, onDtor func()) *node {
	n := &node{onDtor: onDtor}
	n.Init(n, name, func() {
		if n.onDtor != nil {
			n.onDtor()
		}
	})
	return n
}

var _ = Describe("Object", func() {
	var lc *threadctx.Local

	BeforeEach(func() {
		lc = threadctx.New("test")
	})

	It("runs the destructor exactly once when the last strong ref drops", func() {
		count := 0
		n := newNode("n", func() { count++ })
		n.Ref()
		Expect(n.RefCount()).To(BeEquivalentTo(2))
		n.Unref(lc)
		Expect(count).To(Equal(0), "dtor must not run while a ref remains")
		n.Unref(lc)
		Expect(count).To(Equal(1))
	})

	It("defers the destructor to the thread-local queue while a StateMutex is held", func() {
		count := 0
		n := newNode("n", func() { count++ })
		var mtx object.StateMutex
		mtx.Lock(lc)
		n.Unref(lc)
		Expect(count).To(Equal(0), "destruction must not run reentrantly under a held StateMutex")
		mtx.Unlock(lc)
		Expect(count).To(Equal(1), "unlocking to depth zero must drain the deletion queue")
	})

	Describe("weak references", func() {
		It("upgrades while the target is alive, and fails after the last ref drops", func() {
			n := newNode("n", nil)
			w := object.NewWeakRef[*node](n)

			got, ok := w.Upgrade()
			Expect(ok).To(BeTrue())
			Expect(got).To(BeIdenticalTo(n))
			got.Unref(lc) // release the upgrade's strong ref

			Expect(w.IsValid()).To(BeTrue())
			n.Unref(lc) // drop the original, only, strong ref

			Expect(w.IsValid()).To(BeFalse())
			_, ok = w.Upgrade()
			Expect(ok).To(BeFalse())
		})

		It("keeps the target alive for as long as an upgraded reference is held", func() {
			destroyed := false
			n := newNode("n", func() { destroyed = true })
			w := object.NewWeakRef[*node](n)

			got, ok := w.Upgrade()
			Expect(ok).To(BeTrue())

			n.Unref(lc) // drop the caller's original reference
			Expect(destroyed).To(BeFalse(), "the upgraded reference must still be keeping it alive")

			got.Unref(lc)
			Expect(destroyed).To(BeTrue())
		})
	})

	Describe("deletion callbacks", func() {
		It("fires immediately if the target is already destroyed", func() {
			n := newNode("n", nil)
			n.Unref(lc)

			fired := false
			key := n.AddDeletionCallback(func(any) { fired = true }, nil)
			Expect(key).To(Equal(""))
			Expect(fired).To(BeTrue())
		})

		It("fires exactly once when the target is destroyed", func() {
			n := newNode("n", nil)
			calls := 0
			n.AddDeletionCallback(func(any) { calls++ }, nil)
			n.Unref(lc)
			Expect(calls).To(Equal(1))
		})

		It("lets RemoveDeletionCallback cancel a pending subscription", func() {
			n := newNode("n", nil)
			fired := false
			key := n.AddDeletionCallback(func(any) { fired = true }, nil)
			n.RemoveDeletionCallback(key)
			n.Unref(lc)
			Expect(fired).To(BeFalse())
		})
	})
})
