// Package dispatch runs batches of agent-bound tasks on a bounded worker
// pool while honoring declared prerequisites.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/runlog"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 4

// Dispatcher executes task batches against a team.
type Dispatcher struct {
	Team    agent.Team
	WorkDir string
	Workers int
	Run     *runlog.Run
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// outcome is what a worker reports back for one task.
type outcome struct {
	task   *Task
	status Status
	result *agent.Result
	err    string
	start  time.Time
	end    time.Time
}

// Dispatch runs tasks to completion. A task starts only after every
// prerequisite completed; tasks that can never start are marked blocked.
// The only error is an invalid batch.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []*Task) (*Result, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &Result{}, nil
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := d.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		t.Status = StatusPending
		byID[t.ID] = t
	}
	known := func(name string) bool {
		_, ok := d.Team.Get(name)
		return ok
	}

	batchStart := time.Now()
	logger.Info("dispatch start", zap.Int("tasks", len(tasks)), zap.Int("workers", workers))

	jobs := make(chan *Task, len(tasks))
	done := make(chan outcome, len(tasks))
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range jobs {
				done <- d.execute(ctx, t)
			}
			return nil
		})
	}

	busy := make(map[string]bool)
	inFlight := 0
	submitReady := func() {
		if ctx.Err() != nil {
			return
		}
		for _, t := range readyTasks(tasks, byID, busy, known) {
			t.Status = StatusRunning
			if known(t.Agent) {
				busy[t.Agent] = true
			}
			inFlight++
			logger.Debug("task submitted", zap.String("task", t.ID), zap.String("agent", t.Agent))
			jobs <- t
		}
	}

	submitReady()
	for inFlight > 0 {
		o := <-done
		inFlight--
		t := o.task
		t.Status, t.Result, t.Error, t.Start, t.End = o.status, o.result, o.err, o.start, o.end
		delete(busy, t.Agent)
		d.Metrics.RecordTask(string(t.Status), t.Elapsed())
		logger.Info("task finished",
			zap.String("task", t.ID),
			zap.String("status", string(t.Status)),
			zap.Duration("elapsed", t.Elapsed()),
			zap.String("error", t.Error),
		)
		submitReady()
	}
	close(jobs)
	_ = g.Wait()

	var blocked []*Task
	if err := ctx.Err(); err != nil {
		for _, t := range tasks {
			if t.Status == StatusPending {
				t.Status = StatusBlocked
				t.Error = "dispatch cancelled: " + err.Error()
				blocked = append(blocked, t)
			}
		}
	}
	blocked = append(blocked, cascadeBlocked(tasks, byID)...)
	for _, t := range blocked {
		d.Metrics.RecordTask(string(StatusBlocked), 0)
		logger.Warn("task blocked", zap.String("task", t.ID), zap.String("reason", t.Error))
	}

	res := &Result{Tasks: tasks, Total: time.Since(batchStart)}
	for _, t := range tasks {
		res.Sequential += t.Elapsed()
	}
	d.Run.Emit(runlog.EventDispatchEnd,
		zap.Int("tasks", len(tasks)),
		zap.Int("failed", len(res.FailedTasks())),
		zap.Float64("total_elapsed_s", res.Total.Seconds()),
		zap.Float64("sequential_elapsed_s", res.Sequential.Seconds()),
		zap.Float64("speedup", res.Speedup()),
	)
	logger.Info("dispatch end",
		zap.Duration("total", res.Total),
		zap.Duration("sequential", res.Sequential),
		zap.Float64("speedup", res.Speedup()),
		zap.Bool("all_succeeded", res.AllSucceeded()),
	)
	return res, nil
}

// execute runs one task on its agent. It never panics.
func (d *Dispatcher) execute(ctx context.Context, t *Task) (o outcome) {
	o = outcome{task: t, start: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			o.status = StatusFailed
			o.err = fmt.Sprintf("execution fault: %v", r)
		}
		o.end = time.Now()
	}()

	a, ok := d.Team.Get(t.Agent)
	if !ok {
		o.status = StatusFailed
		o.err = fmt.Sprintf("Agent '%s' not found in team", t.Agent)
		return o
	}

	res, err := a.Run(ctx, t.Directive, d.WorkDir, agent.WithAgentName(t.Agent))
	if err != nil {
		o.status = StatusFailed
		o.err = err.Error()
		return o
	}
	o.result = &res
	if res.IsError {
		o.status = StatusFailed
		o.err = res.Text
		return o
	}
	o.status = StatusCompleted
	return o
}
