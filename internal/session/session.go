// Package session defines the worker backend capability consumed by agents
// and the backends kodo ships with.
package session

import (
	"context"
	"fmt"
)

// QueryResult is the outcome of one backend query.
type QueryResult struct {
	Text           string
	ElapsedSeconds float64
	Turns          int
	CostUSD        float64
	IsError        bool
	InputTokens    int
	OutputTokens   int
}

// Stats are cumulative counters since the session was created or last reset.
type Stats struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TotalCostUSD      float64
	Queries           int
}

// TotalTokens returns input plus output tokens.
func (s Stats) TotalTokens() int {
	return s.TotalInputTokens + s.TotalOutputTokens
}

func (s *Stats) add(r QueryResult) {
	s.TotalInputTokens += r.InputTokens
	s.TotalOutputTokens += r.OutputTokens
	s.TotalCostUSD += r.CostUSD
	s.Queries++
}

// Session is one opaque connection to a worker backend. A Session is owned
// by a single agent and is never queried concurrently, but Reset and Stats
// may be called from another goroutine while a query is in flight.
type Session interface {
	Query(ctx context.Context, prompt, workDir string, maxTurns int) (QueryResult, error)
	// Reset discards conversational state and statistics.
	Reset()
	Stats() Stats
	// SessionID is the backend conversation id, or "" when there is none.
	SessionID() string
	// CostBucket tags the billing classification of this backend.
	CostBucket() string
}

// Closer is implemented by sessions that hold releasable resources.
type Closer interface {
	Close() error
}

// Resumer is implemented by sessions that can continue a prior backend
// conversation.
type Resumer interface {
	SetSessionID(id string)
}

// StatusError is a backend failure that carries an HTTP-style status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// StatusCode returns the status code of the failure.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Cost bucket tags.
const (
	BucketAPI          = "api"
	BucketSubscription = "subscription"
)
