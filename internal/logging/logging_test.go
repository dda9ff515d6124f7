package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/taskctx"
)

func TestLogDispatchesToRegisteredSinks(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug)
	l.AddSink(NewLogrusSink("text", "text", &buf))

	l.Log(LevelInfo, nil, "hello", map[string]any{"k": "v"})
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected message in sink output, got %q", buf.String())
	}
}

func TestModuleLevelFilterDropsBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelInfo)
	l.AddSink(NewLogrusSink("text", "text", &buf))
	l.SetModuleLevel("noisy", LevelError)

	l.Log(LevelWarn, nil, "should be dropped", nil, "noisy")
	if buf.Len() != 0 {
		t.Fatalf("expected module-level filter to drop entry, got %q", buf.String())
	}

	l.Log(LevelError, nil, "should pass", nil, "noisy")
	if !strings.Contains(buf.String(), "should pass") {
		t.Fatal("expected entry at-or-above module level to pass")
	}
}

func TestLogErrorLatchesTaskContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug)
	l.AddSink(NewLogrusSink("text", "text", &buf))

	h := taskctx.MakeContext(context.Background(), "op", nil)
	l.LogError(LevelError, apperrors.New(apperrors.CodeInternal), h, "boom", nil)
	if !h.InError() {
		t.Fatal("expected LogError to latch the task context's error state")
	}
}

func TestLogCloseUnwindsScope(t *testing.T) {
	l := New(LevelDebug)
	h := taskctx.MakeContext(context.Background(), "op", nil)
	_ = h.EnterScope("work")
	if h.ScopeDepth() != 1 {
		t.Fatalf("expected scope depth 1, got %d", h.ScopeDepth())
	}
	l.LogClose(LevelInfo, nil, h, "done", nil)
	if h.ScopeDepth() != 0 {
		t.Fatalf("expected LogClose to unwind scope, depth=%d", h.ScopeDepth())
	}
}

func TestRemoveSinkStopsDelivery(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug)
	l.AddSink(NewLogrusSink("text", "text", &buf))
	l.RemoveSink("text")

	l.Log(LevelInfo, nil, "nobody home", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output after sink removal, got %q", buf.String())
	}
}
