// Package logging implements the structured logger of spec §4.1: records
// bound to a task context, pluggable named sinks, and per-module level
// filters.
//
// Grounded on infrastructure/logging/logger.go (context-aware With* helpers,
// LogSecurityEvent/LogAudit domain helpers) and pkg/logger/logger.go (a
// simpler logrus.Logger embed); folded here into one package with the
// teacher's logrus sink kept as the default and zap/zerolog added as
// additional pluggable sinks (see NewLogrusSink/NewZapSink/NewZerologSink).
package logging

import (
	"sync"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/taskctx"
)

// Level is a four-level severity scale (debug, info, warn, error), ordered
// for filtering; there is no trace or fatal level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one emitted log record, passed to every registered Sink.
type Entry struct {
	Time    time.Time
	Level   Level
	Module  string
	Message string
	Fields  map[string]any
	Err     error
	Scope   string // name of ctx while it has a scope open; the open scope's own name is not recorded
}

// Sink is a pluggable log destination, registered by name. Sinks must be
// internally thread-safe (spec §4.1: "Sinks must be internally
// thread-safe").
type Sink interface {
	Name() string
	Write(Entry)
}

// Logger dispatches Entry values to every registered sink whose module
// level filter admits the entry's level.
type Logger struct {
	mu            sync.RWMutex
	sinks         map[string]Sink
	moduleLevels  map[string]Level
	defaultLevel  Level
}

// New creates a Logger with no sinks registered; callers add sinks with
// AddSink (e.g. NewLogrusSink for a sensible default).
func New(defaultLevel Level) *Logger {
	return &Logger{
		sinks:        make(map[string]Sink),
		moduleLevels: make(map[string]Level),
		defaultLevel: defaultLevel,
	}
}

// AddSink registers or replaces a sink by name.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks[s.Name()] = s
}

// RemoveSink unregisters a sink by name.
func (l *Logger) RemoveSink(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sinks, name)
}

// SetModuleLevel sets the minimum level for a module; entries below it are
// dropped for that module.
func (l *Logger) SetModuleLevel(module string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moduleLevels[module] = level
}

func (l *Logger) levelFor(module string) Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.moduleLevels[module]; ok {
		return lvl
	}
	return l.defaultLevel
}

func (l *Logger) dispatch(e Entry) {
	if e.Level < l.levelFor(e.Module) {
		return
	}
	l.mu.RLock()
	sinks := make([]Sink, 0, len(l.sinks))
	for _, s := range l.sinks {
		sinks = append(sinks, s)
	}
	l.mu.RUnlock()
	for _, s := range sinks {
		s.Write(e)
	}
}

func scopeOf(h *taskctx.Handle) string {
	if h == nil {
		return ""
	}
	if h.ScopeDepth() == 0 {
		return ""
	}
	return h.Name()
}

// Log emits a record (spec §4.1's `log(level, ctx, msg, records[, module])`).
func (l *Logger) Log(level Level, h *taskctx.Handle, msg string, records map[string]any, module ...string) {
	l.dispatch(Entry{
		Time:    time.Now(),
		Level:   level,
		Module:  firstOr(module, ""),
		Message: msg,
		Fields:  records,
		Scope:   scopeOf(h),
	})
}

// LogError emits a record carrying an error, and (if h is non-nil) latches
// the task context's error state so subsequent EnterScope calls are
// ignored until ResetError.
func (l *Logger) LogError(level Level, err error, h *taskctx.Handle, msg string, records map[string]any, module ...string) {
	l.dispatch(Entry{
		Time:    time.Now(),
		Level:   level,
		Module:  firstOr(module, ""),
		Message: msg,
		Fields:  records,
		Err:     err,
		Scope:   scopeOf(h),
	})
	if h != nil {
		if ae, ok := err.(*apperrors.Error); ok {
			h.SetError(ae)
		} else if err != nil {
			h.SetError(apperrors.Wrap(apperrors.CodeInternal, err))
		}
	}
}

// LogClose emits a closing record and unwinds the task context's current
// scope (spec §4.1).
func (l *Logger) LogClose(level Level, err error, h *taskctx.Handle, msg string, records map[string]any, module ...string) {
	if err != nil {
		l.LogError(level, err, h, msg, records, module...)
	} else {
		l.Log(level, h, msg, records, module...)
	}
	if h != nil {
		h.LeaveScope()
	}
}

func firstOr(ss []string, def string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return def
}
