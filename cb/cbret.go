package cb

import (
	"github.com/dshatrov/gomary/object"
	"github.com/dshatrov/gomary/threadctx"
)

// CbBool is a Cb<F> whose F returns a single bool, the common case for
// "did this succeed" frontend/backend handoffs (e.g. a sender's
// "overloaded" notification).
type CbBool struct {
	cbCore
	fn func(data any) bool
}

func NewCbBool(fn func(data any) bool, data any, guard object.HasCore, extraRef object.HasCore) *CbBool {
	return &CbBool{cbCore: newCore(guard, data, extraRef), fn: fn}
}

// CallRet invokes the held function and reports its result alongside
// whether the call actually happened (spec §4.2's call_ret).
func (c *CbBool) CallRet(lc *threadctx.Local) (result bool, called bool) {
	if c.fn == nil {
		return false, false
	}
	var r bool
	ok := c.invokeGuarded(lc, func() { r = c.fn(c.data) })
	return r, ok
}

// CbRet is a Cb<F> whose F returns an arbitrary T.
type CbRet[T any] struct {
	cbCore
	fn func(data any) T
}

func NewCbRet[T any](fn func(data any) T, data any, guard object.HasCore, extraRef object.HasCore) *CbRet[T] {
	return &CbRet[T]{cbCore: newCore(guard, data, extraRef), fn: fn}
}

func (c *CbRet[T]) CallRet(lc *threadctx.Local) (result T, called bool) {
	if c.fn == nil {
		var zero T
		return zero, false
	}
	var r T
	ok := c.invokeGuarded(lc, func() { r = c.fn(c.data) })
	return r, ok
}
