package session

import (
	"context"
	"sync"
	"time"
)

// MockResponse defines what one mock query produces.
type MockResponse struct {
	Text         string
	IsError      bool
	Err          error
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	SessionID    string
	// Delay overrides Mock.Delay for this response.
	Delay time.Duration
	// Panic, when non-nil, makes Query panic with it.
	Panic any
}

// Mock is a scripted Session for tests. Responses are consumed in order;
// once exhausted, Default is returned.
type Mock struct {
	Responses []MockResponse
	Default   MockResponse
	// Delay is how long each query takes unless the response overrides it.
	Delay  time.Duration
	Bucket string
	// OnQuery, when set, computes the response from the prompt instead of
	// consuming Responses.
	OnQuery func(prompt string) MockResponse

	mu        sync.Mutex
	next      int
	prompts   []string
	calls     int
	resets    int
	closed    bool
	sessionID string
	stats     Stats
}

func (m *Mock) Query(ctx context.Context, prompt, workDir string, maxTurns int) (QueryResult, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	var resp MockResponse
	switch {
	case m.OnQuery != nil:
		m.mu.Unlock()
		resp = m.OnQuery(prompt)
		m.mu.Lock()
	case m.next < len(m.Responses):
		resp = m.Responses[m.next]
		m.next++
	default:
		resp = m.Default
	}
	delay := m.Delay
	m.mu.Unlock()

	if resp.Delay > 0 {
		delay = resp.Delay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return QueryResult{}, ctx.Err()
		}
	}
	if resp.Panic != nil {
		panic(resp.Panic)
	}
	if resp.Err != nil {
		return QueryResult{}, resp.Err
	}

	res := QueryResult{
		Text:           resp.Text,
		ElapsedSeconds: delay.Seconds(),
		Turns:          1,
		CostUSD:        resp.CostUSD,
		IsError:        resp.IsError,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
	}
	m.mu.Lock()
	if resp.SessionID != "" {
		m.sessionID = resp.SessionID
	}
	m.stats.add(res)
	m.mu.Unlock()
	return res, nil
}

func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.sessionID = ""
	m.stats = Stats{}
}

func (m *Mock) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Mock) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Mock) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}

func (m *Mock) CostBucket() string {
	if m.Bucket == "" {
		return BucketAPI
	}
	return m.Bucket
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Query was invoked. Unlike Stats, it
// survives Reset.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Resets returns how many times Reset was invoked.
func (m *Mock) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Prompts returns every prompt received, in order.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
