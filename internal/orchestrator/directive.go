package orchestrator

import (
	"context"

	"github.com/kylegalloway/kodo/internal/dispatch"
)

// Member is a team member as presented to the conductor.
type Member struct {
	Name string
	Role string
}

// Turn is what the conductor sees before choosing its next directive.
type Turn struct {
	Goal           string
	WorkDir        string
	PriorSummary   string
	Team           []Member
	Exchange       int
	MaxExchanges   int
	BrowserTesting bool
	// Report is the outcome of the previous directive; empty on the
	// first exchange of a cycle.
	Report string
}

// First reports whether the turn opens a cycle.
func (t Turn) First() bool {
	return t.Exchange == 1
}

// Conductor decides what the team does next.
type Conductor interface {
	Next(ctx context.Context, turn Turn) (Directive, error)
}

// Directive is one of Delegate, Parallel, Done or Note.
type Directive interface {
	directive()
}

// Delegate hands a directive to one agent.
type Delegate struct {
	Agent           string
	Directive       string
	NewConversation bool
}

// Parallel runs a batch of tasks through the dispatcher.
type Parallel struct {
	Tasks []dispatch.TaskSpec
}

// Done claims the goal is complete, or abandons it when Success is false.
type Done struct {
	Summary string
	Success bool
}

// Note records the conductor's reasoning without acting.
type Note struct {
	Text string
}

func (Delegate) directive() {}
func (Parallel) directive() {}
func (Done) directive()     {}
func (Note) directive()     {}

// cycleOutcome is what one directive did to the cycle.
type cycleOutcome interface {
	cycleOutcome()
}

type outcomeContinue struct {
	Report string
}

type outcomeDone struct {
	Summary string
	Success bool
}

func (outcomeContinue) cycleOutcome() {}
func (outcomeDone) cycleOutcome()     {}
