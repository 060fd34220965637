package dispatch

import (
	"time"

	"github.com/kylegalloway/kodo/internal/agent"
)

// Status is the lifecycle state of a task within one batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusBlocked marks a task that was never started because a
	// prerequisite failed, was itself blocked, or does not exist.
	StatusBlocked Status = "blocked"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// Task is one unit of work bound to a team member.
type Task struct {
	ID        string
	Agent     string
	Directive string
	DependsOn []string

	Status Status
	Result *agent.Result
	Error  string
	Start  time.Time
	End    time.Time
}

// NewTask returns a pending task.
func NewTask(id, agentName, directive string, dependsOn ...string) *Task {
	return &Task{
		ID:        id,
		Agent:     agentName,
		Directive: directive,
		DependsOn: dependsOn,
		Status:    StatusPending,
	}
}

// Elapsed returns the task's wall time, or zero if it never started.
func (t *Task) Elapsed() time.Duration {
	if t.Start.IsZero() {
		return 0
	}
	end := t.End
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.Start)
}

// Result is a finished batch.
type Result struct {
	Tasks      []*Task
	Total      time.Duration
	Sequential time.Duration
}

// AllSucceeded reports whether every task completed.
func (r *Result) AllSucceeded() bool {
	for _, t := range r.Tasks {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// FailedTasks returns tasks that failed or were blocked.
func (r *Result) FailedTasks() []*Task {
	var out []*Task
	for _, t := range r.Tasks {
		if t.Status == StatusFailed || t.Status == StatusBlocked {
			out = append(out, t)
		}
	}
	return out
}

// Speedup is sequential time over wall time; 1 when nothing ran.
func (r *Result) Speedup() float64 {
	if r.Total == 0 {
		return 1
	}
	return r.Sequential.Seconds() / r.Total.Seconds()
}

// TimeSaved is sequential time minus wall time.
func (r *Result) TimeSaved() time.Duration {
	return r.Sequential - r.Total
}

// TimeSavedPct is TimeSaved as a percentage of sequential time.
func (r *Result) TimeSavedPct() float64 {
	if r.Sequential == 0 {
		return 0
	}
	return r.TimeSaved().Seconds() / r.Sequential.Seconds() * 100
}
