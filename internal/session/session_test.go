package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConsumesResponsesInOrder(t *testing.T) {
	m := &Mock{
		Responses: []MockResponse{
			{Text: "first", InputTokens: 10, OutputTokens: 5, CostUSD: 0.01, SessionID: "s-1"},
			{Err: errors.New("boom")},
		},
		Default: MockResponse{Text: "default"},
	}
	ctx := context.Background()

	r, err := m.Query(ctx, "p1", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", r.Text)
	assert.Equal(t, "s-1", m.SessionID())

	_, err = m.Query(ctx, "p2", "", 1)
	assert.EqualError(t, err, "boom")

	r, err = m.Query(ctx, "p3", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "default", r.Text)

	st := m.Stats()
	assert.Equal(t, 2, st.Queries)
	assert.Equal(t, 15, st.TotalTokens())
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, []string{"p1", "p2", "p3"}, m.Prompts())
}

func TestMockResetClearsStatsNotCalls(t *testing.T) {
	m := &Mock{Default: MockResponse{Text: "ok", InputTokens: 3, SessionID: "abc"}}
	_, err := m.Query(context.Background(), "p", "", 1)
	require.NoError(t, err)

	m.Reset()
	assert.Equal(t, Stats{}, m.Stats())
	assert.Equal(t, "", m.SessionID())
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, 1, m.Resets())
}

func TestMockDelayHonorsContext(t *testing.T) {
	m := &Mock{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Query(ctx, "p", "", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusError(t *testing.T) {
	var err error = &StatusError{Code: 529, Message: "overloaded"}
	var sc interface{ StatusCode() int }
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, 529, sc.StatusCode())
	assert.Equal(t, "status 529: overloaded", err.Error())
}

func TestCLISessionArgs(t *testing.T) {
	s := NewCLISession(CLIConfig{Model: "opus", ExtraArgs: []string{"--verbose"}})
	assert.Equal(t,
		[]string{"--print", "--output-format", "json", "--model", "opus", "--max-turns", "5", "--verbose", "do it"},
		s.Args("do it", 5))

	s.SetSessionID("sess-9")
	assert.Contains(t, s.Args("again", 0), "--resume")
	assert.Equal(t, BucketSubscription, s.CostBucket())
}

func TestClassifyExit(t *testing.T) {
	exitErr := exec.Command("false").Run()
	require.Error(t, exitErr)

	err := classifyExit("claude", exitErr, nil, []byte(`API Error: status 529 {"type":"overloaded_error"}`))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 529, se.Code)

	err = classifyExit("claude", exitErr, nil, []byte("invalid api key"))
	assert.False(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "invalid api key")
}

// writeScript creates an executable shell script standing in for the CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCLISessionQuery(t *testing.T) {
	bin := writeScript(t, `echo '{"result":"hello","session_id":"s-42","total_cost_usd":0.5,"num_turns":3,"usage":{"input_tokens":100,"output_tokens":20}}'`)
	s := NewCLISession(CLIConfig{Binary: bin})

	r, err := s.Query(context.Background(), "hi", t.TempDir(), 2)
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Text)
	assert.Equal(t, 3, r.Turns)
	assert.Equal(t, "s-42", s.SessionID())
	assert.Equal(t, 120, s.Stats().TotalTokens())
	assert.InDelta(t, 0.5, s.Stats().TotalCostUSD, 1e-9)

	s.Reset()
	assert.Equal(t, "", s.SessionID())
	assert.Equal(t, 0, s.Stats().Queries)
}

func TestCLISessionQueryCancelled(t *testing.T) {
	bin := writeScript(t, "sleep 30\n")
	s := NewCLISession(CLIConfig{Binary: bin})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Query(ctx, "hi", t.TempDir(), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCLISessionResetKillsInFlight(t *testing.T) {
	bin := writeScript(t, "sleep 30\n")
	s := NewCLISession(CLIConfig{Binary: bin})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Query(context.Background(), "hi", t.TempDir(), 1)
		errc <- err
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running != nil
	}, 5*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	pid := s.running.Process.Pid
	s.mu.Unlock()

	s.Reset()
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("query did not return after reset")
	}
	assert.False(t, processAlive(pid))
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
