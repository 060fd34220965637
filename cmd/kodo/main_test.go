package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/config"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/session"
)

func testApp(t *testing.T, yaml string) *app {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return &app{cfg: cfg, projectDir: t.TempDir(), logger: zap.NewNop(), metrics: metrics.New()}
}

func TestBuildTeamFromConfig(t *testing.T) {
	a := testApp(t, `
agents:
  - name: worker
    role: writes code
    model: sonnet
    system_prompt: Prefer small commits.
    extra_args: ["--verbose"]
  - name: tester
    role: runs tests
`)
	team := a.buildTeam()
	assert.Equal(t, []string{"tester", "worker"}, team.Names())

	worker, ok := team.Get("worker")
	require.True(t, ok)
	assert.Equal(t, "writes code", worker.Role)
	sess, ok := worker.Session().(*session.CLISession)
	require.True(t, ok)
	args := sess.Args("go", 3)
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--append-system-prompt")
	assert.Contains(t, args, "Prefer small commits.")
	assert.Contains(t, args, "sonnet")
	assert.Equal(t, "go", args[len(args)-1])
}

func TestBuildConductorFallback(t *testing.T) {
	a := testApp(t, `
orchestrator:
  model: opus
  fallback_model: sonnet
`)
	c := a.buildConductor()
	assert.NotNil(t, c.Primary)
	assert.NotNil(t, c.Fallback)

	a = testApp(t, `
orchestrator:
  model: sonnet
  fallback_model: sonnet
`)
	assert.Nil(t, a.buildConductor().Fallback)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "first", oneLine("first\nsecond", 20))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
	assert.Equal(t, "short", oneLine("short", 10))
}

func TestBudgetsPreferResumedRun(t *testing.T) {
	a := testApp(t, `
orchestrator:
  max_cycles: 5
  max_exchanges: 30
`)
	t.Cleanup(func() { maxCycles, maxExchanges = 0, 0 })

	c, e := a.budgets(nil)
	assert.Equal(t, 5, c)
	assert.Equal(t, 30, e)

	prior := &runlog.RunState{MaxCycles: 8, MaxExchanges: 12}
	c, e = a.budgets(prior)
	assert.Equal(t, 8, c)
	assert.Equal(t, 12, e)

	c, e = a.budgets(&runlog.RunState{})
	assert.Equal(t, 5, c)
	assert.Equal(t, 30, e)

	maxCycles = 10
	c, e = a.budgets(prior)
	assert.Equal(t, 10, c)
	assert.Equal(t, 12, e)
}
