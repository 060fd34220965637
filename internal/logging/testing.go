package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Observed is a logger whose entries are kept in memory for assertions.
type Observed struct {
	Logger *zap.Logger
	logs   *observer.ObservedLogs
}

// NewObserved returns a debug-level observed logger.
func NewObserved() *Observed {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Observed{Logger: zap.New(core), logs: logs}
}

// All returns every logged entry.
func (o *Observed) All() []observer.LoggedEntry {
	return o.logs.All()
}

// FilterMessage returns entries whose message contains msg.
func (o *Observed) FilterMessage(msg string) *observer.ObservedLogs {
	return o.logs.FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (o *Observed) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range o.logs.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, o.logs.All())
}
