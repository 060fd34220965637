package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilRunIsSafe(t *testing.T) {
	var r *Run
	r.Emit(EventCycleEnd)
	assert.Equal(t, "", r.Path())
	assert.NoError(t, r.Close())
}

func TestStartAssignsID(t *testing.T) {
	r, err := Start(t.TempDir(), "")
	require.NoError(t, err)
	defer r.Close()
	assert.NotEmpty(t, r.ID)
	assert.FileExists(t, r.Path())
}

func TestEmitWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	r, err := Start(dir, "run-7")
	require.NoError(t, err)
	r.Emit(EventRunStart, zap.String("goal", "build it"), zap.Strings("team", []string{"worker", "tester"}))
	r.Emit(EventCycleEnd, zap.Int("cycle", 1), zap.Bool("finished", false), zap.String("summary", "half way"))
	require.NoError(t, r.Close())
	r.Emit(EventRunEnd) // after close: dropped

	data, err := os.ReadFile(LogPath(dir, "run-7"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"run_start"`)
	assert.Contains(t, lines[0], `"run_id":"run-7"`)
	assert.Contains(t, lines[1], `"summary":"half way"`)
}

func writeLog(t *testing.T, dir, runID string, lines ...string) string {
	t.Helper()
	path := LogPath(dir, runID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestParseRunToleratesCorruptLines(t *testing.T) {
	path := writeLog(t, t.TempDir(), "r1",
		`{"event":"run_start","ts":"2026-01-02T03:04:05Z","goal":"g","orchestrator":"api","model":"opus","max_cycles":5,"max_exchanges":30,"team":["worker","tester"],"has_stages":false}`,
		`{this is not json`,
		`{"event":"session_query_end","session":"worker","session_id":"abc"}`,
		`{"event":"session_query_end","session":"tester","chat_id":"chat-1"}`,
		`{"event":"cycle_end","cycle":1,"finished":false,"summary":"first"}`,
		``,
		`{"event":"cycle_end","cycle":2,"finished":false,"summary":"second"}`,
	)

	st, err := ParseRun(path)
	require.NoError(t, err)
	assert.True(t, st.Started)
	assert.False(t, st.Ended)
	assert.Equal(t, "g", st.Goal)
	assert.Equal(t, 5, st.MaxCycles)
	assert.Equal(t, []string{"worker", "tester"}, st.Team)
	assert.Len(t, st.Cycles, 2)
	assert.Equal(t, "second", st.LastSummary())
	assert.Equal(t, map[string]string{"worker": "abc", "tester": "chat-1"}, st.AgentSessions)
	assert.True(t, st.Incomplete())

	rs := st.ResumeState()
	assert.Equal(t, 2, rs.CompletedCycles)
	assert.Equal(t, "second", rs.LastSummary)
	assert.Equal(t, "abc", rs.AgentSessionIDs["worker"])
	assert.Empty(t, rs.CompletedStages)
	assert.Equal(t, 0, rs.CurrentStageCycles)
}

func TestParseRunMissingFile(t *testing.T) {
	_, err := ParseRun(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestStagedResumeState(t *testing.T) {
	path := writeLog(t, t.TempDir(), "r2",
		`{"event":"run_start","goal":"g","has_stages":true}`,
		`{"event":"stage_start","stage_index":1,"stage_name":"Backend"}`,
		`{"event":"cycle_end","cycle":1,"stage_index":1,"finished":true,"summary":"backend done"}`,
		`{"event":"stage_end","stage_index":1,"stage_name":"Backend","finished":true,"summary":"backend done"}`,
		`{"event":"stage_start","stage_index":2,"stage_name":"Frontend"}`,
		`{"event":"cycle_end","cycle":2,"stage_index":2,"finished":false,"summary":"ui half"}`,
		`{"event":"cycle_end","cycle":3,"stage_index":2,"finished":false,"summary":"ui most"}`,
	)

	st, err := ParseRun(path)
	require.NoError(t, err)
	rs := st.ResumeState()
	assert.Equal(t, 3, rs.CompletedCycles)
	assert.Equal(t, []int{1}, rs.CompletedStages)
	assert.Equal(t, "backend done", rs.StageSummaries[1])
	assert.True(t, rs.StageCompleted(1))
	assert.False(t, rs.StageCompleted(2))
	assert.Equal(t, 2, rs.CurrentStageCycles)
	assert.Equal(t, "ui most", rs.LastSummary)
}

func TestStageBoundaryResumeHasNoCurrentCycles(t *testing.T) {
	path := writeLog(t, t.TempDir(), "r3",
		`{"event":"run_start","goal":"g","has_stages":true}`,
		`{"event":"stage_start","stage_index":1}`,
		`{"event":"cycle_end","cycle":1,"stage_index":1,"finished":true,"summary":"s1"}`,
		`{"event":"stage_end","stage_index":1,"finished":true,"summary":"s1"}`,
	)
	st, err := ParseRun(path)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ResumeState().CurrentStageCycles)
}

func TestUnstagedResumeHasNoCurrentStageCycles(t *testing.T) {
	path := writeLog(t, t.TempDir(), "r4",
		`{"event":"run_start","goal":"g"}`,
		`{"event":"cycle_end","cycle":1,"finished":false,"summary":"a"}`,
		`{"event":"cycle_end","cycle":2,"stage_index":0,"finished":false,"summary":"b"}`,
	)
	st, err := ParseRun(path)
	require.NoError(t, err)
	rs := st.ResumeState()
	assert.Equal(t, 2, rs.CompletedCycles)
	assert.Equal(t, 0, rs.CurrentStageCycles)
}

func TestFindIncompleteRuns(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "finished",
		`{"event":"run_start","ts":"2026-01-01T00:00:00Z"}`,
		`{"event":"cycle_end","cycle":1,"finished":true}`,
		`{"event":"run_end","finished":true}`,
	)
	writeLog(t, dir, "no-cycles",
		`{"event":"run_start","ts":"2026-01-02T00:00:00Z"}`,
	)
	writeLog(t, dir, "older",
		`{"event":"run_start","ts":"2026-01-03T00:00:00Z"}`,
		`{"event":"cycle_end","cycle":1,"finished":false}`,
	)
	writeLog(t, dir, "interrupted",
		`{"event":"run_start","ts":"2026-01-04T00:00:00Z"}`,
		`{"event":"cycle_end","cycle":1,"finished":false}`,
		`{"event":"run_end","finished":false}`,
	)

	runs, err := FindIncompleteRuns(dir)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "interrupted", runs[0].RunID)
	assert.Equal(t, "older", runs[1].RunID)
}

func TestFindIncompleteRunsNoDir(t *testing.T) {
	runs, err := FindIncompleteRuns(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRoundTripThroughWriter(t *testing.T) {
	dir := t.TempDir()
	r, err := Start(dir, "rt")
	require.NoError(t, err)
	r.Emit(EventRunStart, zap.String("goal", "g"), zap.Bool("has_stages", false))
	r.Emit(EventSessionQueryEnd, zap.String("session", "worker"), zap.String("session_id", "w-1"))
	r.Emit(EventCycleEnd, zap.Int("cycle", 1), zap.Int("stage_index", -1), zap.Bool("finished", false), zap.String("summary", "s"))
	require.NoError(t, r.Close())

	st, err := ParseRun(r.Path())
	require.NoError(t, err)
	assert.Equal(t, "rt", st.RunID)
	assert.False(t, st.StartTime.IsZero())
	assert.True(t, st.Incomplete())
	assert.Equal(t, "w-1", st.ResumeState().AgentSessionIDs["worker"])
}
