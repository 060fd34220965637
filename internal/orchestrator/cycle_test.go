package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/dispatch"
	"github.com/kylegalloway/kodo/internal/retry"
	"github.com/kylegalloway/kodo/internal/session"
)

// scriptedConductor replays directives and records every turn it saw.
type scriptedConductor struct {
	directives []Directive
	err        error
	turns      []Turn
}

func (s *scriptedConductor) Next(ctx context.Context, turn Turn) (Directive, error) {
	s.turns = append(s.turns, turn)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.turns) > len(s.directives) {
		return Note{Text: "idle"}, nil
	}
	return s.directives[len(s.turns)-1], nil
}

func noSleep() *retry.Strategy {
	s := retry.Default()
	s.Sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func member(name string, m *session.Mock) *agent.Agent {
	return agent.New(name, m, agent.Config{Role: name + " role", Retry: noSleep()})
}

func TestCycleDelegateThenVerifiedDone(t *testing.T) {
	worker := &session.Mock{Default: session.MockResponse{Text: "implemented the API", CostUSD: 0.5}}
	tester := &session.Mock{Default: session.MockResponse{Text: "ALL CHECKS PASS", CostUSD: 0.25}}
	team := agent.Team{"worker": member("worker", worker), "tester": member("tester", tester)}
	cond := &scriptedConductor{directives: []Directive{
		Delegate{Agent: "worker", Directive: "build the API"},
		Done{Summary: "API built", Success: true},
	}}

	c := &DirectiveCycle{Conductor: cond}
	res, err := c.Cycle(context.Background(), "build api", t.TempDir(), team, 10, "", false)
	require.NoError(t, err)

	assert.True(t, res.Finished)
	assert.True(t, res.Success)
	assert.Equal(t, "API built", res.Summary)
	assert.Equal(t, 2, res.Exchanges)
	assert.InDelta(t, 0.75, res.CostUSD, 1e-9)

	require.Len(t, cond.turns, 2)
	assert.True(t, cond.turns[0].First())
	assert.Equal(t, "", cond.turns[0].Report)
	assert.Contains(t, cond.turns[1].Report, "implemented the API")
	assert.Contains(t, cond.turns[1].Report, "[Context:")
	assert.Equal(t, []Member{{Name: "tester", Role: "tester role"}, {Name: "worker", Role: "worker role"}}, cond.turns[0].Team)
}

func TestCycleUnknownAgent(t *testing.T) {
	team := agent.Team{"worker": member("worker", &session.Mock{})}
	cond := &scriptedConductor{directives: []Directive{Delegate{Agent: "ghost", Directive: "haunt"}}}

	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 2, "", false)
	require.NoError(t, err)
	require.Len(t, cond.turns, 2)
	assert.Equal(t, "[ERROR] Unknown agent: ghost", cond.turns[1].Report)
}

func TestCycleAgentCrashIsReported(t *testing.T) {
	worker := &session.Mock{Default: session.MockResponse{Err: errors.New("exit status 1")}}
	team := agent.Team{"worker": member("worker", worker)}
	cond := &scriptedConductor{directives: []Directive{Delegate{Agent: "worker", Directive: "go"}}}

	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 2, "", false)
	require.NoError(t, err)
	assert.Equal(t, "[ERROR] worker crashed: agent worker: exit status 1", cond.turns[1].Report)
}

func TestCycleTruncatesLongReports(t *testing.T) {
	worker := &session.Mock{Default: session.MockResponse{Text: strings.Repeat("x", 3*reportLimit)}}
	team := agent.Team{"worker": member("worker", worker)}
	cond := &scriptedConductor{directives: []Directive{Delegate{Agent: "worker", Directive: "go"}}}

	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 2, "", false)
	require.NoError(t, err)
	assert.Len(t, []rune(cond.turns[1].Report), reportLimit)
}

func TestCycleNewConversationResetsAgent(t *testing.T) {
	worker := &session.Mock{Default: session.MockResponse{Text: "ok"}}
	team := agent.Team{"worker": member("worker", worker)}
	cond := &scriptedConductor{directives: []Directive{Delegate{Agent: "worker", Directive: "go", NewConversation: true}}}

	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 2, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, worker.Resets())
	assert.Contains(t, cond.turns[1].Report, "[Context was reset: orchestrator requested new conversation]")
}

func TestCycleDoneRejectedThenAccepted(t *testing.T) {
	tester := &session.Mock{Responses: []session.MockResponse{
		{Text: "login form is broken"},
		{Text: "ALL CHECKS PASS"},
	}}
	team := agent.Team{"worker": member("worker", &session.Mock{}), "tester": member("tester", tester)}
	cond := &scriptedConductor{directives: []Directive{
		Done{Summary: "login works", Success: true},
		Done{Summary: "fixed login", Success: true},
	}}

	res, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "login", t.TempDir(), team, 5, "", false)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.True(t, res.Success)
	assert.Equal(t, "fixed login", res.Summary)
	assert.Equal(t, 2, res.Exchanges)
	assert.True(t, strings.HasPrefix(cond.turns[1].Report, "DONE REJECTED (attempt 1)"))
	assert.Contains(t, cond.turns[1].Report, "login form is broken")
}

func TestCycleUnsuccessfulDoneSkipsVerification(t *testing.T) {
	tester := &session.Mock{Default: session.MockResponse{Text: "ALL CHECKS PASS"}}
	team := agent.Team{"tester": member("tester", tester)}
	cond := &scriptedConductor{directives: []Directive{Done{Summary: "blocked on credentials", Success: false}}}

	res, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 5, "", false)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.False(t, res.Success)
	assert.Equal(t, "blocked on credentials", res.Summary)
	assert.Equal(t, 0, tester.Calls())
}

func TestCycleExhaustionCarriesForward(t *testing.T) {
	worker := &session.Mock{OnQuery: func(prompt string) session.MockResponse {
		return session.MockResponse{Text: "did " + prompt}
	}}
	team := agent.Team{"worker": member("worker", worker)}
	cond := &scriptedConductor{directives: []Directive{
		Note{Text: "plan: schema first"},
		Delegate{Agent: "worker", Directive: "schema"},
		Delegate{Agent: "worker", Directive: "handlers"},
	}}

	res, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), team, 3, "", false)
	require.NoError(t, err)
	assert.False(t, res.Finished)
	assert.Equal(t, 3, res.Exchanges)
	assert.True(t, strings.HasPrefix(res.Summary, "The previous cycle used all 3 exchanges without a verified done."))
	assert.Contains(t, res.Summary, "plan: schema first")
	assert.Contains(t, res.Summary, "did schema")
	assert.Contains(t, res.Summary, "did handlers")
	assert.Equal(t, "Noted.", cond.turns[1].Report)
}

func TestCyclePriorSummaryReachesConductor(t *testing.T) {
	cond := &scriptedConductor{}
	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), agent.Team{}, 1, "carried", true)
	require.NoError(t, err)
	require.Len(t, cond.turns, 1)
	assert.Equal(t, "carried", cond.turns[0].PriorSummary)
	assert.True(t, cond.turns[0].BrowserTesting)
	assert.Equal(t, 1, cond.turns[0].MaxExchanges)
}

func TestCycleConductorErrorEndsCycle(t *testing.T) {
	cond := &scriptedConductor{err: errors.New("session gone")}
	_, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), agent.Team{}, 3, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conductor: session gone")
}

func TestCycleParallelBatch(t *testing.T) {
	worker := &session.Mock{Default: session.MockResponse{Text: "worker output", CostUSD: 0.1}}
	tester := &session.Mock{Default: session.MockResponse{Text: "tester output", CostUSD: 0.2}}
	team := agent.Team{"worker": member("worker", worker), "tester": member("tester", tester)}
	cond := &scriptedConductor{directives: []Directive{Parallel{Tasks: []dispatch.TaskSpec{
		{ID: "impl", Agent: "worker", Directive: "implement"},
		{ID: "tests", Agent: "tester", Directive: "write tests"},
	}}}}

	res, err := (&DirectiveCycle{Conductor: cond, Workers: 2}).Cycle(context.Background(), "g", t.TempDir(), team, 2, "", false)
	require.NoError(t, err)
	report := cond.turns[1].Report
	assert.True(t, strings.HasPrefix(report, "Parallel batch: 2 task(s)"))
	assert.Contains(t, report, "## impl [worker] (completed")
	assert.Contains(t, report, "tester output")
	assert.InDelta(t, 0.3, res.CostUSD, 1e-9)
}

func TestCycleCountsConductorSpend(t *testing.T) {
	primary := &session.Mock{Default: session.MockResponse{
		Text:    "```json\n{\"action\":\"done\",\"summary\":\"gave up\",\"success\":false}\n```",
		CostUSD: 0.05,
	}}
	cond := &SessionConductor{Primary: primary, Retry: noSleep()}

	res, err := (&DirectiveCycle{Conductor: cond}).Cycle(context.Background(), "g", t.TempDir(), agent.Team{}, 3, "", false)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.InDelta(t, 0.05, res.CostUSD, 1e-9)
}

func TestCarryForwardKeepsRecentReports(t *testing.T) {
	out := carryForward(5, "", []string{"r1", "r2", "r3", "r4"})
	assert.NotContains(t, out, "r1")
	assert.Contains(t, out, "r2")
	assert.Contains(t, out, "r4")
	assert.NotContains(t, out, "Orchestrator notes")
}
