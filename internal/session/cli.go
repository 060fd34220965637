package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CLIConfig configures a CLISession.
type CLIConfig struct {
	// Binary is the assistant executable, e.g. "claude" or "cursor-agent".
	Binary string
	Model  string
	// ExtraArgs are appended before the prompt on every invocation.
	ExtraArgs []string
	// Bucket is the cost bucket reported by the session.
	Bucket string
	Logger *zap.Logger
}

// CLISession runs a coding-assistant CLI in print mode, one subprocess per
// query, and continues the backend conversation with --resume.
type CLISession struct {
	cfg    CLIConfig
	logger *zap.Logger

	mu        sync.Mutex
	sessionID string
	stats     Stats
	running   *exec.Cmd
	done      chan struct{}
}

// NewCLISession creates a CLISession.
func NewCLISession(cfg CLIConfig) *CLISession {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = BucketSubscription
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLISession{cfg: cfg, logger: logger.With(zap.String("binary", cfg.Binary))}
}

// cliOutput is the JSON document printed by --output-format json.
type cliOutput struct {
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	CostUSD      float64 `json:"cost_usd"`
	NumTurns     int     `json:"num_turns"`
	IsError      bool    `json:"is_error"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Args returns the argument list for one query.
func (s *CLISession) Args(prompt string, maxTurns int) []string {
	args := []string{"--print", "--output-format", "json"}
	if s.cfg.Model != "" {
		args = append(args, "--model", s.cfg.Model)
	}
	if maxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(maxTurns))
	}
	if id := s.SessionID(); id != "" {
		args = append(args, "--resume", id)
	}
	args = append(args, s.cfg.ExtraArgs...)
	return append(args, prompt)
}

func (s *CLISession) Query(ctx context.Context, prompt, workDir string, maxTurns int) (QueryResult, error) {
	cmd := exec.Command(s.cfg.Binary, s.Args(prompt, maxTurns)...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return QueryResult{}, fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.running = cmd
	s.done = done
	s.mu.Unlock()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(done)
	}()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		killProcessGroup(cmd, done)
		<-done
		s.clearRunning(cmd)
		return QueryResult{}, ctx.Err()
	}
	s.clearRunning(cmd)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		return QueryResult{}, classifyExit(s.cfg.Binary, err, stdout.Bytes(), stderr.Bytes())
	}

	var out cliOutput
	if jerr := json.Unmarshal(stdout.Bytes(), &out); jerr != nil {
		return QueryResult{}, fmt.Errorf("parse %s output: %w", s.cfg.Binary, jerr)
	}

	cost := out.TotalCostUSD
	if cost == 0 {
		cost = out.CostUSD
	}
	res := QueryResult{
		Text:           out.Result,
		ElapsedSeconds: elapsed,
		Turns:          out.NumTurns,
		CostUSD:        cost,
		IsError:        out.IsError,
		InputTokens:    out.Usage.InputTokens,
		OutputTokens:   out.Usage.OutputTokens,
	}

	s.mu.Lock()
	if out.SessionID != "" {
		s.sessionID = out.SessionID
	}
	s.stats.add(res)
	s.mu.Unlock()

	s.logger.Debug("query complete",
		zap.String("session_id", out.SessionID),
		zap.Float64("elapsed_s", elapsed),
		zap.Int("turns", out.NumTurns),
		zap.Float64("cost_usd", cost),
	)
	return res, nil
}

func (s *CLISession) clearRunning(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.running == cmd {
		s.running = nil
		s.done = nil
	}
	s.mu.Unlock()
}

// Reset kills any in-flight subprocess and starts a fresh conversation.
func (s *CLISession) Reset() {
	s.kill()
	s.mu.Lock()
	s.sessionID = ""
	s.stats = Stats{}
	s.mu.Unlock()
}

// Close kills any in-flight subprocess.
func (s *CLISession) Close() error {
	s.kill()
	return nil
}

func (s *CLISession) kill() {
	s.mu.Lock()
	cmd, done := s.running, s.done
	s.mu.Unlock()
	if cmd != nil {
		s.logger.Info("killing in-flight query", zap.Int("pid", cmd.Process.Pid))
		killProcessGroup(cmd, done)
	}
}

func (s *CLISession) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *CLISession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID continues an existing backend conversation on the next query.
func (s *CLISession) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *CLISession) CostBucket() string {
	return s.cfg.Bucket
}

var statusPattern = regexp.MustCompile(`(?i)(?:status|error|code)["':\s=]*(\d{3})\b`)

// classifyExit turns a failed subprocess into an error, extracting an
// HTTP-style status code from its output when one is reported.
func classifyExit(binary string, err error, stdout, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		var out cliOutput
		if json.Unmarshal(stdout, &out) == nil && out.Result != "" {
			msg = out.Result
		} else {
			msg = strings.TrimSpace(string(stdout))
		}
	}
	if len(msg) > 2000 {
		msg = msg[:2000]
	}

	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		if code, cerr := strconv.Atoi(m[1]); cerr == nil && code >= 400 && code < 600 {
			return &StatusError{Code: code, Message: msg}
		}
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if msg == "" {
		return fmt.Errorf("%s exited %d: %w", binary, exitCode, err)
	}
	return fmt.Errorf("%s exited %d: %s", binary, exitCode, msg)
}
