// Package runlog writes the structured per-run event log and reconstructs
// resume state from it. A *Run is the explicit run context handed to agents
// and the orchestrator: it carries the run id and project directory used
// for checkpoints, and the event sink.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Dir is the log root relative to the project directory.
var Dir = filepath.Join(".kodo", "logs")

// Event names.
const (
	EventRunStart        = "run_start"
	EventRunResumed      = "run_resumed"
	EventCycleEnd        = "cycle_end"
	EventStageStart      = "stage_start"
	EventStageEnd        = "stage_end"
	EventSessionQueryEnd = "session_query_end"
	EventAgentRunEnd     = "agent_run_end"
	EventDispatchEnd     = "dispatch_end"
	EventVerification    = "verification"
	EventRunEnd          = "run_end"
)

// Run is one run's context and event sink. A nil *Run discards events.
type Run struct {
	ID         string
	ProjectDir string

	path   string
	file   *os.File
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// LogPath returns the event log file for runID.
func LogPath(projectDir, runID string) string {
	return filepath.Join(projectDir, Dir, runID+".jsonl")
}

// Start opens the event log for runID, appending when it already exists so
// a resumed run continues its own history. An empty runID gets a new one.
func Start(projectDir, runID string) (*Run, error) {
	if runID == "" {
		runID = NewRunID()
	}
	path := LogPath(projectDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	encCfg := zapcore.EncoderConfig{
		MessageKey:     "event",
		TimeKey:        "ts",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.DebugLevel)

	return &Run{
		ID:         runID,
		ProjectDir: projectDir,
		path:       path,
		file:       f,
		logger:     zap.New(core).With(zap.String("run_id", runID)),
	}, nil
}

// Path returns the log file location.
func (r *Run) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Emit appends one event record.
func (r *Run) Emit(event string, fields ...zap.Field) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.logger.Info(event, fields...)
}

// Close flushes and closes the log. It is safe to call more than once.
func (r *Run) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.logger.Sync()
	return r.file.Close()
}
