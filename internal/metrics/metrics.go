// Package metrics holds the prometheus collectors shared by kodo components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kodo"

// Collector groups kodo's metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	retryAttempts   *prometheus.CounterVec
	agentRuns       *prometheus.CounterVec
	agentDuration   *prometheus.HistogramVec
	agentTokens     *prometheus.CounterVec
	dispatchTasks   *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	cycles          *prometheus.CounterVec
	verifications   *prometheus.CounterVec
}

// New registers kodo's metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		retryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Backend call failures seen by the retry strategy, by outcome.",
		}, []string{"outcome"}),
		agentRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent invocations by agent and status.",
		}, []string{"agent", "status"}),
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent invocation wall time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"agent"}),
		agentTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_total",
			Help:      "Tokens consumed by agent.",
		}, []string{"agent"}),
		dispatchTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_tasks_total",
			Help:      "Parallel tasks by terminal status.",
		}, []string{"status"}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_task_duration_seconds",
			Help:      "Parallel task wall time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Orchestration cycles by result.",
		}, []string{"result"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Done verification attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry the collectors live on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRetry counts a retry-strategy outcome: retry, exhausted or permanent.
func (c *Collector) RecordRetry(outcome string) {
	if c == nil {
		return
	}
	c.retryAttempts.WithLabelValues(outcome).Inc()
}

// RecordAgentRun records one agent invocation.
func (c *Collector) RecordAgentRun(agent string, isError bool, elapsed time.Duration, tokens int) {
	if c == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	c.agentRuns.WithLabelValues(agent, status).Inc()
	c.agentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
	if tokens > 0 {
		c.agentTokens.WithLabelValues(agent).Add(float64(tokens))
	}
}

// RecordTask records a parallel task reaching a terminal status.
func (c *Collector) RecordTask(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTasks.WithLabelValues(status).Inc()
	if elapsed > 0 {
		c.dispatchLatency.Observe(elapsed.Seconds())
	}
}

// RecordCycle records a completed cycle: finished, unfinished or error.
func (c *Collector) RecordCycle(result string) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(result).Inc()
}

// RecordVerification records a verification outcome: accepted, rejected
// or skipped.
func (c *Collector) RecordVerification(outcome string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps every metric in the prometheus text format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
