package reactorcore

import "sync"

// Handle is a weak, invalidatable reference standing in for Squid's
// cbdata mechanism (spec.md §5 "Cancellation. Each async handle is a
// weak reference (cbdata-style). When its target is destroyed, the
// async callback sees an invalidated handle and MUST discard its
// result without invoking the user continuation.").
//
// A real weak pointer would need the target to be reachable without
// keeping it alive; Go has no portable weak-reference primitive before
// runtime finalizers, so Handle instead holds the value behind an
// explicit valid flag that the owner clears on teardown — the same
// "liveness bit checked before delivering a result" behavior cbdata
// provides, without pretending to be a GC-level weak pointer.
type Handle[T any] struct {
	mu    sync.Mutex
	value T
	valid bool
}

// NewHandle returns a valid Handle wrapping v.
func NewHandle[T any](v T) *Handle[T] {
	return &Handle[T]{value: v, valid: true}
}

// Get returns the wrapped value and true if the handle is still valid.
func (h *Handle[T]) Get() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.valid
}

// Invalidate marks the handle dead; subsequent Get calls report false.
// Called exactly once, at the point the target is destroyed.
func (h *Handle[T]) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	h.value = zero
	h.valid = false
}

// CloseHandlers collects close callbacks registered against one
// connection or request context, invoking each exactly once with a
// closing flag (spec.md §5 "Connections on close invoke every
// registered close handler exactly once with a closing flag.").
type CloseHandlers struct {
	mu       sync.Mutex
	handlers []func(closing bool)
	fired    bool
}

// Register adds fn to the set invoked by Fire.
func (c *CloseHandlers) Register(fn func(closing bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		fn(true)
		return
	}
	c.handlers = append(c.handlers, fn)
}

// Fire invokes every registered handler exactly once; a second call is
// a no-op.
func (c *CloseHandlers) Fire(closing bool) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()

	for _, h := range handlers {
		h(closing)
	}
}
