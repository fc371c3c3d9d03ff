// Package pagepool implements spec §4.8's Page / PageListHead
// contract: fixed-size, reference-counted buffers chained into
// messages, backed by a spare pool with a minimum-pages floor so a
// burst of large messages doesn't pin down memory forever once
// traffic quiets down. The teacher's own paged allocator
// (memsys.MMSA, visible only through its callers' use of
// memsys.PageMM/PageSize/DefaultBufSize/MaxPageSlabSize — its source
// isn't in the retrieved tree) is out of scope per spec — "its
// contract is given, not its internals" — so gomary implements that
// contract itself, using valyala/bytebufferpool (already in the
// teacher's dependency graph transitively via fasthttp) as the
// underlying recycled-buffer allocator instead of a hand-rolled
// spare slice.
package pagepool

import (
	"github.com/valyala/bytebufferpool"

	"github.com/dshatrov/gomary/cmn/atomic"
)

// Page is a fixed-capacity buffer with an atomic refcount and a
// next-in-message link, letting a Page be shared across several
// in-flight messages without copying.
type Page struct {
	data []byte
	refs atomic.Int64
	next *Page

	bb   *bytebufferpool.ByteBuffer // backing buffer, held until the page is freed
	pool *PagePool
}

// Data returns the page's currently-filled bytes.
func (p *Page) Data() []byte { return p.data }

// Next returns the next page in this page's message, or nil at the
// chain's tail.
func (p *Page) Next() *Page { return p.next }

// Release drops one reference on p via the pool it was allocated
// from, equivalent to pp.PageUnref(p) but callable without the caller
// keeping its own *PagePool handle around.
func (p *Page) Release() { p.pool.pageUnref(p) }

// PageRefCount exposes a page's refcount for tests only (spec §8's
// page-pool round-trip law); never meant for production control flow.
func PageRefCount(p *Page) int64 { return p.refs.Load() }

// PageListHead is the head-and-tail cursor over a message's page
// chain, as spec §4.8 describes: "Messages are modeled as linked
// lists of pages plus a leading byte offset into the first page."
type PageListHead struct {
	Head, Tail *Page
	// Offset is the leading byte offset into Head's data that the
	// message logically starts at; bytes before Offset belong to an
	// earlier message sharing the same first page.
	Offset int
}

func (l *PageListHead) append(p *Page) {
	if l.Tail == nil {
		l.Head, l.Tail = p, p
		return
	}
	l.Tail.next = p
	l.Tail = p
}

// Walk returns the list's bytes from Offset through Tail's filled
// length, concatenated. For tests (spec §8's "walk(list) == mem")
// rather than the hot path, which should stream pages via writev
// instead of materializing a copy.
func (l *PageListHead) Walk() []byte {
	if l.Head == nil {
		return nil
	}
	var out []byte
	off := l.Offset
	for p := l.Head; p != nil; p = p.next {
		out = append(out, p.data[off:]...)
		off = 0
	}
	return out
}
