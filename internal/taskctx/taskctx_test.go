package taskctx

import (
	"context"
	"testing"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

type sessionSubctx struct {
	Login string
}

type requestSubctx struct {
	RequestID uint64
}

func TestGetReturnsUniquelyTypedSubcontext(t *testing.T) {
	h := MakeContext(context.Background(), "req", []any{sessionSubctx{Login: "alice"}, requestSubctx{RequestID: 7}})

	sess, ok := Get[sessionSubctx](h)
	if !ok || sess.Login != "alice" {
		t.Fatalf("expected session subcontext, got %+v ok=%v", sess, ok)
	}
	req, ok := Get[requestSubctx](h)
	if !ok || req.RequestID != 7 {
		t.Fatalf("expected request subcontext, got %+v ok=%v", req, ok)
	}
}

func TestScopeStackUnwindsDropsVars(t *testing.T) {
	h := MakeContext(context.Background(), "req", nil)
	if err := h.EnterScope("outer"); err != nil {
		t.Fatalf("unexpected error entering scope: %v", err)
	}
	h.PushVar("x", 1)
	if err := h.EnterScope("inner"); err != nil {
		t.Fatalf("unexpected error entering nested scope: %v", err)
	}
	h.PushVar("y", 2)

	h.LeaveScope() // drops "y"
	if _, ok := h.Var("y"); ok {
		t.Fatal("expected y to be dropped on LeaveScope")
	}
	if _, ok := h.Var("x"); !ok {
		t.Fatal("expected x from outer scope to survive")
	}

	h.LeaveScope()
	if h.ScopeDepth() != 0 {
		t.Fatalf("expected scope depth 0 after full unwind, got %d", h.ScopeDepth())
	}
}

func TestScopeStackBoundedDepth(t *testing.T) {
	h := MakeContext(context.Background(), "req", nil, WithMaxScopeDepth(2))
	if err := h.EnterScope("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.EnterScope("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.EnterScope("c"); err == nil {
		t.Fatal("expected bounded stack to refuse a third scope")
	}
}

func TestErrorStateLatchesAndIgnoresEnterScope(t *testing.T) {
	h := MakeContext(context.Background(), "req", nil)
	h.SetError(apperrors.New(apperrors.CodeInternal))
	if err := h.EnterScope("x"); err == nil {
		t.Fatal("expected EnterScope to be ignored while in error state")
	}
	h.ResetError()
	if err := h.EnterScope("x"); err != nil {
		t.Fatalf("expected EnterScope to succeed after ResetError, got %v", err)
	}
}

func TestThreadAcquisitionStackPopsToMatchingEntry(t *testing.T) {
	h := MakeContext(context.Background(), "req", nil)
	h.AcquireThread(1)
	h.AcquireThread(2)
	h.AcquireThread(1) // re-entrant hop back to thread 1

	h.ReleaseThread(1)
	if got := h.CurrentThread(); got != 2 {
		t.Fatalf("expected thread 2 still acquired, got %d", got)
	}
	h.ReleaseThread(2)
	if got := h.CurrentThread(); got != 1 {
		t.Fatalf("expected original thread 1 acquisition, got %d", got)
	}
}

func TestCancelIsCooperative(t *testing.T) {
	h := MakeContext(context.Background(), "req", nil)
	if h.Cancelled() {
		t.Fatal("expected fresh context to not be cancelled")
	}
	h.Cancel()
	if !h.Cancelled() {
		t.Fatal("expected Cancel to flip the flag")
	}
}
