// Package agent binds a worker Session to a role, turn and time limits, and
// a retry strategy, producing uniform results and checkpoints.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/checkpoint"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/retry"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/session"
)

// DefaultMaxTurns is the per-call turn limit when none is configured.
const DefaultMaxTurns = 15

// summaryLimit bounds the conversation summary stored in checkpoints.
const summaryLimit = 500

// Config configures an Agent.
type Config struct {
	// Role describes what the agent does; it is shown to the conductor.
	Role     string
	MaxTurns int
	// Timeout bounds one Run call. Zero means no limit.
	Timeout    time.Duration
	Checkpoint bool
	Retry      *retry.Strategy
	Logger     *zap.Logger
	Metrics    *metrics.Collector
}

// Agent owns one Session exclusively.
type Agent struct {
	Name     string
	Role     string
	MaxTurns int
	Timeout  time.Duration

	checkpointing bool
	session       session.Session
	retry         *retry.Strategy
	logger        *zap.Logger
	metrics       *metrics.Collector

	mu             sync.Mutex
	run            *runlog.Run
	lastCheckpoint *checkpoint.Checkpoint
}

// New creates an Agent named name over sess.
func New(name string, sess session.Session, cfg Config) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Name:          name,
		Role:          cfg.Role,
		MaxTurns:      cfg.MaxTurns,
		Timeout:       cfg.Timeout,
		checkpointing: cfg.Checkpoint,
		session:       sess,
		retry:         cfg.Retry,
		logger:        logger.With(zap.String("agent", name)),
		metrics:       cfg.Metrics,
	}
}

// Session returns the agent's session.
func (a *Agent) Session() session.Session {
	return a.session
}

// SetRun attaches the run context used for checkpoints and events. A nil
// run detaches it.
func (a *Agent) SetRun(run *runlog.Run) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.run = run
}

func (a *Agent) currentRun() *runlog.Run {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}

// LastCheckpoint returns the most recently saved checkpoint, or nil.
func (a *Agent) LastCheckpoint() *checkpoint.Checkpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCheckpoint
}

// RunOption adjusts a single Run call.
type RunOption func(*runOptions)

type runOptions struct {
	newConversation bool
	label           string
}

// WithNewConversation resets the session before querying.
func WithNewConversation() RunOption {
	return func(o *runOptions) { o.newConversation = true }
}

// WithAgentName sets the label used for logs and the checkpoint key.
func WithAgentName(name string) RunOption {
	return func(o *runOptions) { o.label = name }
}

// Run sends goal to the session. Transient failures are retried; a
// permanent failure or exhausted retries is returned as an error. A
// timeout is not an error: it yields an error Result after the session has
// been reset.
func (a *Agent) Run(ctx context.Context, goal, workDir string, opts ...RunOption) (Result, error) {
	o := runOptions{label: a.Name}
	for _, opt := range opts {
		opt(&o)
	}
	logger := a.logger.With(zap.String("label", o.label))
	run := a.currentRun()

	var res Result
	if o.newConversation {
		a.session.Reset()
		res.ContextReset = true
		res.ResetReason = "orchestrator requested new conversation"
		logger.Debug("session reset", zap.String("reason", res.ResetReason))
	}

	start := time.Now()
	q, err := a.query(ctx, goal, workDir, logger)
	if err != nil {
		a.metrics.RecordAgentRun(a.Name, true, time.Since(start), 0)
		logger.Warn("agent query failed", zap.Error(err))
		return Result{}, fmt.Errorf("agent %s: %w", o.label, err)
	}

	stats := a.session.Stats()
	res.Text = q.Text
	res.IsError = q.IsError
	res.ElapsedSeconds = q.ElapsedSeconds
	res.CostUSD = q.CostUSD
	res.SessionTokens = stats.TotalTokens()
	res.SessionQueries = stats.Queries

	if id := a.session.SessionID(); id != "" {
		run.Emit(runlog.EventSessionQueryEnd,
			zap.String("session", a.Name),
			zap.String("agent", o.label),
			zap.String("session_id", id),
		)
	}
	run.Emit(runlog.EventAgentRunEnd,
		zap.String("agent", o.label),
		zap.Float64("elapsed_s", res.ElapsedSeconds),
		zap.Bool("is_error", res.IsError),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int("session_tokens", res.SessionTokens),
		zap.Int("session_queries", res.SessionQueries),
		zap.Bool("context_reset", res.ContextReset),
	)
	a.metrics.RecordAgentRun(a.Name, res.IsError, time.Since(start), q.InputTokens+q.OutputTokens)

	if !res.IsError && a.checkpointing && run != nil {
		a.saveCheckpoint(run, o.label, res, stats, logger)
	}
	return res, nil
}

type queryOutcome struct {
	result session.QueryResult
	err    error
	panic  any
}

func (a *Agent) query(ctx context.Context, goal, workDir string, logger *zap.Logger) (session.QueryResult, error) {
	call := func(ctx context.Context) (session.QueryResult, error) {
		return retry.Execute(ctx, a.retry, func(ctx context.Context) (session.QueryResult, error) {
			return a.session.Query(ctx, goal, workDir, a.MaxTurns)
		})
	}
	if a.Timeout <= 0 {
		return call(ctx)
	}

	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan queryOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- queryOutcome{panic: p}
			}
		}()
		r, err := call(qctx)
		done <- queryOutcome{result: r, err: err}
	}()

	timer := time.NewTimer(a.Timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		// Re-raised here so the caller's recover sees session faults.
		if out.panic != nil {
			panic(out.panic)
		}
		return out.result, out.err
	case <-timer.C:
		cancel()
		a.session.Reset()
		logger.Warn("agent timed out; session reset", zap.Duration("timeout", a.Timeout))
		return session.QueryResult{
			Text:           fmt.Sprintf("Agent timed out after %ss", strconv.FormatFloat(a.Timeout.Seconds(), 'f', -1, 64)),
			ElapsedSeconds: a.Timeout.Seconds(),
			IsError:        true,
		}, nil
	}
}

func (a *Agent) saveCheckpoint(run *runlog.Run, label string, res Result, stats session.Stats, logger *zap.Logger) {
	summary := res.Text
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}
	cp := &checkpoint.Checkpoint{
		AgentName:           label,
		SessionID:           a.session.SessionID(),
		RunID:               run.ID,
		Timestamp:           time.Now().UTC(),
		TokensUsed:          stats.TotalTokens(),
		QueriesCompleted:    stats.Queries,
		CostUSD:             stats.TotalCostUSD,
		ConversationSummary: summary,
	}
	if err := cp.Save(run.ProjectDir); err != nil {
		logger.Warn("checkpoint save failed", zap.Error(err))
		return
	}
	a.mu.Lock()
	a.lastCheckpoint = cp
	a.mu.Unlock()
}

// Close releases the session when it holds resources.
func (a *Agent) Close() error {
	if c, ok := a.session.(session.Closer); ok {
		return c.Close()
	}
	return nil
}

// Result is the outcome of one Agent.Run call.
type Result struct {
	Text           string
	IsError        bool
	ElapsedSeconds float64
	CostUSD        float64
	ContextReset   bool
	ResetReason    string
	// SessionTokens and SessionQueries are the session's cumulative
	// counters right after the call.
	SessionTokens  int
	SessionQueries int
}

// FormatReport renders the result with a context receipt for the caller.
func (r Result) FormatReport() string {
	var parts []string
	if r.ContextReset {
		parts = append(parts, fmt.Sprintf("[Context was reset: %s]", r.ResetReason))
	}
	text := r.Text
	if text == "" {
		text = "(no output)"
	}
	parts = append(parts, text)
	parts = append(parts, fmt.Sprintf("\n---\n[Context: %s tokens used | %d queries in session]",
		groupThousands(r.SessionTokens), r.SessionQueries))
	return strings.Join(parts, "\n")
}

// groupThousands formats n with comma separators.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
