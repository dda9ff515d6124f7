// Package taskctx implements the per-operation task context of spec §4.1:
// a container of typed subcontexts, a bounded scope/variable stack, a
// thread-acquisition stack, and a cooperative cancel/error-state flag.
//
// It is grounded on the teacher's context.Context value-key pattern
// (infrastructure/logging/logger.go's TraceIDKey/WithTraceID/GetTraceID
// accessor pairs), generalized from flat context keys into the typed
// subcontext + scope-stack model spec §4.1 requires.
package taskctx

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

const defaultMaxScopeDepth = 16

type variable struct {
	key   string
	value any
	scope int // scope stack depth at time of push
}

// Handle is a task context: typed subcontexts plus the scope/variable/
// thread-acquisition stacks of spec §4.1. Handle embeds a context.Context
// so it composes with stdlib APIs (net, KV engine calls) the way the
// teacher threads context.Context everywhere it carries request state.
type Handle struct {
	context.Context

	name string

	// parent is a plain pointer, not a strong-reference-avoiding weak
	// pointer: Go's tracing GC collects reference cycles safely, so the
	// "parent refs are weak" design note (spec §9) is satisfied without
	// needing runtime/weak here — nothing is leaked by a cycle.
	parent *Handle

	mu          sync.Mutex
	subcontexts map[reflect.Type]any
	cancelled   atomic.Bool
	inError     atomic.Bool
	lastError   *apperrors.Error

	scopeStack  []string
	varStack    []variable
	threadStack []int64

	maxScopeDepth int
}

// Option configures a Handle at construction.
type Option func(*Handle)

// WithParent records a weak-in-spirit parent link (see Handle.parent).
func WithParent(p *Handle) Option {
	return func(h *Handle) { h.parent = p }
}

// WithMaxScopeDepth overrides the default bounded scope-stack depth (16).
func WithMaxScopeDepth(n int) Option {
	return func(h *Handle) {
		if n > 0 {
			h.maxScopeDepth = n
		}
	}
}

// MakeContext constructs a Handle carrying the given subcontexts, each
// constructed once for the handle's lifetime, keyed by dynamic type. Passing
// two subcontexts of the same type is a programmer error: the second
// silently replaces the first, mirroring a map assignment.
func MakeContext(parentCtx context.Context, name string, subcontexts []any, opts ...Option) *Handle {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	h := &Handle{
		Context:       parentCtx,
		name:          name,
		subcontexts:   make(map[reflect.Type]any, len(subcontexts)),
		maxScopeDepth: defaultMaxScopeDepth,
	}
	for _, sc := range subcontexts {
		h.subcontexts[reflect.TypeOf(sc)] = sc
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the name the handle was constructed with.
func (h *Handle) Name() string { return h.name }

// Get returns the handle's uniquely-typed subcontext of type T. The bool
// result is false when no subcontext of that type was registered.
func Get[T any](h *Handle) (*T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	v, ok := h.subcontexts[reflect.TypeOf(zero)]
	if !ok {
		return nil, false
	}
	t, ok := v.(T)
	if !ok {
		return nil, false
	}
	return &t, true
}

// EnterScope pushes name onto the bounded fn stack. Once the context is in
// error state, EnterScope is a no-op that returns the latched error (spec
// §4.1: "further enter_scope calls are ignored").
func (h *Handle) EnterScope(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inError.Load() {
		return h.lastError
	}
	if len(h.scopeStack) >= h.maxScopeDepth {
		return apperrors.Newf(apperrors.CodeInvalidState, "scope stack depth exceeds bound %d", h.maxScopeDepth)
	}
	h.scopeStack = append(h.scopeStack, name)
	return nil
}

// LeaveScope pops the most recent scope, dropping every variable pushed
// since the matching EnterScope.
func (h *Handle) LeaveScope() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.scopeStack) == 0 {
		return
	}
	depth := len(h.scopeStack)
	h.scopeStack = h.scopeStack[:depth-1]

	kept := h.varStack[:0]
	for _, v := range h.varStack {
		if v.scope < depth {
			kept = append(kept, v)
		}
	}
	h.varStack = kept
}

// ScopeDepth returns the current scope stack depth (0 once the request
// has fully unwound, per spec §8's testable property).
func (h *Handle) ScopeDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scopeStack)
}

// PushVar pushes an ad-hoc key/value bound to the current scope.
func (h *Handle) PushVar(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.varStack = append(h.varStack, variable{key: key, value: value, scope: len(h.scopeStack)})
}

// PopVar removes the most recently pushed variable, returning its key and
// value, or ("", nil, false) if the stack is empty.
func (h *Handle) PopVar() (string, any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.varStack)
	if n == 0 {
		return "", nil, false
	}
	v := h.varStack[n-1]
	h.varStack = h.varStack[:n-1]
	return v.key, v.value, true
}

// Var looks up the most recently pushed variable with the given key,
// searching from the top of the stack down.
func (h *Handle) Var(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.varStack) - 1; i >= 0; i-- {
		if h.varStack[i].key == key {
			return h.varStack[i].value, true
		}
	}
	return nil, false
}

// SetError latches the context into error state; further EnterScope calls
// are refused until ResetError.
func (h *Handle) SetError(ec *apperrors.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = ec
	h.inError.Store(true)
}

// ResetError clears the error-state latch.
func (h *Handle) ResetError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = nil
	h.inError.Store(false)
}

// InError reports whether the context is currently latched in error state.
func (h *Handle) InError() bool { return h.inError.Load() }

// LastError returns the latched error, or nil.
func (h *Handle) LastError() *apperrors.Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastError
}

// Cancel flips the cooperative cancel flag.
func (h *Handle) Cancel() { h.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// AcquireThread records threadID on the thread-acquisition stack, allowing
// an executor to resume work on this context after a suspension point
// without tearing down the fn stack (spec §4.1/§5).
func (h *Handle) AcquireThread(threadID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.threadStack = append(h.threadStack, threadID)
}

// ReleaseThread pops the thread-acquisition stack down to (and including)
// the most recent entry matching threadID, allowing multi-thread hops.
func (h *Handle) ReleaseThread(threadID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.threadStack) - 1; i >= 0; i-- {
		if h.threadStack[i] == threadID {
			h.threadStack = h.threadStack[:i]
			return
		}
	}
}

// CurrentThread returns the top of the thread-acquisition stack, or 0 if
// empty.
func (h *Handle) CurrentThread() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.threadStack) == 0 {
		return 0
	}
	return h.threadStack[len(h.threadStack)-1]
}

// Parent returns the parent handle this context was built with, if any.
func (h *Handle) Parent() *Handle { return h.parent }
