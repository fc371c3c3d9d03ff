package pagepool

import (
	"github.com/valyala/bytebufferpool"

	"github.com/dshatrov/gomary/cmn/atomic"
)

// DefaultPageSize mirrors memsys.PageSize's role as the teacher's
// default paged-buffer granularity.
const DefaultPageSize = 4096

// PagePool is the allocator spec §4.8 describes: getFillPages,
// pageRef/pageUnref, msgRef/msgUnref, getFillPagesFromPages, backed
// by a spare pool with a minimum-pages floor. The zero value is not
// usable; construct with New.
type PagePool struct {
	pageSize int
	minPages int64

	spare      bytebufferpool.Pool
	totalPages atomic.Int64 // pages currently live or held as spare
}

// New builds a PagePool handing out pageSize-capacity pages, keeping
// up to minPages of them in the spare list once their refcount drops
// to zero rather than letting every one go straight to the garbage
// collector.
func New(pageSize int, minPages int64) *PagePool {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagePool{pageSize: pageSize, minPages: minPages}
}

func (pp *PagePool) PageSize() int { return pp.pageSize }

// Alloc returns a single empty page with refcount 1, reusing a spare
// buffer when one is available. The ByteBuffer backing the page's
// data is retained on the Page itself (not returned to spare) for as
// long as the page is alive, and only handed back in pageUnref once
// the last reference drops.
func (pp *PagePool) Alloc() *Page {
	bb := pp.spare.Get()
	if cap(bb.B) < pp.pageSize {
		bb.B = make([]byte, 0, pp.pageSize)
	}

	pp.totalPages.Inc()
	p := &Page{data: bb.B[:0], bb: bb, pool: pp}
	p.refs.Store(1)
	return p
}

// pageRef takes one additional reference on p.
func (pp *PagePool) pageRef(p *Page) { p.refs.Inc() }

// pageUnref drops one reference on p, returning it to the spare pool
// or letting it be collected once the last reference is gone,
// depending on whether the pool is currently at or under its
// minimum-pages floor (spec §4.8).
func (pp *PagePool) pageUnref(p *Page) {
	if p.refs.Dec() > 0 {
		return
	}
	p.next = nil

	if pp.totalPages.Load() <= pp.minPages {
		p.bb.B = p.data[:0]
		pp.spare.Put(p.bb)
		p.bb = nil
		return
	}
	pp.totalPages.Dec()
	p.bb = nil
}

// PageRef/PageUnref export pageRef/pageUnref for callers outside the
// package (the sender's message queue owns pages across several
// in-flight writes and must manage their lifetime explicitly).
func (pp *PagePool) PageRef(p *Page)   { pp.pageRef(p) }
func (pp *PagePool) PageUnref(p *Page) { pp.pageUnref(p) }

// MsgRef/MsgUnref apply pageRef/pageUnref across every page in a
// message's chain, from Head through Tail.
func (pp *PagePool) MsgRef(list PageListHead) {
	for p := list.Head; p != nil; p = p.next {
		pp.pageRef(p)
	}
}

func (pp *PagePool) MsgUnref(list PageListHead) {
	for p, next := list.Head, (*Page)(nil); p != nil; p = next {
		next = p.next
		pp.pageUnref(p)
	}
}

// GetFillPages copies data into list, appending newly allocated pages
// as needed; if list's tail page has spare capacity it is topped up
// first before any new page is allocated (spec §4.8: "the last page
// of list may be partially filled first").
func (pp *PagePool) GetFillPages(list *PageListHead, data []byte) {
	if list.Tail != nil {
		n := copy(list.Tail.data[len(list.Tail.data):cap(list.Tail.data)], data)
		list.Tail.data = list.Tail.data[:len(list.Tail.data)+n]
		data = data[n:]
	}
	for len(data) > 0 {
		p := pp.Alloc()
		n := copy(p.data[:cap(p.data)], data)
		p.data = p.data[:n]
		data = data[n:]
		list.append(p)
	}
}

// GetFillPagesFromPages moves up to length bytes from the front of
// src onto dst's tail, advancing src past the consumed bytes. A page
// of src fully consumed by the requested range is spliced directly
// into dst with no byte copy and no refcount change (ownership
// transfers from src to dst, preserving the single intrusive next
// pointer each Page has room for); a page only partially consumed at
// either edge is copied into dst's own page so the boundary doesn't
// have to be shared between two simultaneously-live chains. This is
// the zero-copy forwarding path spec §4.8 calls out: "the page chain
// may alias arbitrary source ranges" — realized here as splice rather
// than true node aliasing, since Page's one next pointer can only
// ever belong to one chain at a time.
func (pp *PagePool) GetFillPagesFromPages(dst *PageListHead, src *PageListHead, length int) {
	for length > 0 && src.Head != nil {
		p := src.Head
		avail := len(p.data) - src.Offset
		if avail <= length {
			// p is fully consumed by this request: detach from src and
			// splice straight into dst, no copy, no refcount change.
			src.Head = p.next
			if src.Head == nil {
				src.Tail = nil
			}
			carriedOffset := src.Offset
			src.Offset = 0
			if carriedOffset > 0 {
				// dst never inherits a nonzero leading offset on an
				// interior page; shift the data down before splicing.
				p.data = p.data[carriedOffset:]
			}
			p.next = nil
			dst.append(p)
			length -= avail
			continue
		}

		// p has more bytes than this request wants: copy the slice out
		// and leave p (and the remainder) in src.
		pp.GetFillPages(dst, p.data[src.Offset:src.Offset+length])
		src.Offset += length
		length = 0
	}
}
