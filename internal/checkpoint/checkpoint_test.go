package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(agent string) *Checkpoint {
	return &Checkpoint{
		AgentName:           agent,
		SessionID:           "sess-" + agent,
		RunID:               "run-1",
		Timestamp:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TokensUsed:          1200,
		QueriesCompleted:    3,
		CostUSD:             0.42,
		ConversationSummary: "implemented the parser",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	cp := sample("worker")
	require.NoError(t, cp.Save(base))

	got := Load("run-1", "worker", base)
	require.NotNil(t, got)
	assert.Equal(t, *cp, *got)
	assert.FileExists(t, filepath.Join(base, ".kodo", "checkpoints", "run-1", "worker.json"))
}

func TestNullSessionID(t *testing.T) {
	base := t.TempDir()
	cp := sample("architect")
	cp.SessionID = ""
	require.NoError(t, cp.Save(base))

	data, err := os.ReadFile(Path(base, "run-1", "architect"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id": null`)

	got := Load("run-1", "architect", base)
	require.NotNil(t, got)
	assert.Equal(t, "", got.SessionID)
}

func TestSaveOverwrites(t *testing.T) {
	base := t.TempDir()
	cp := sample("worker")
	require.NoError(t, cp.Save(base))
	cp.QueriesCompleted = 9
	require.NoError(t, cp.Save(base))

	assert.Equal(t, 9, Load("run-1", "worker", base).QueriesCompleted)
	assert.Len(t, LoadAll("run-1", base), 1)
}

func TestLoadMissingIsNil(t *testing.T) {
	assert.Nil(t, Load("nope", "worker", t.TempDir()))
}

func TestLoadCorruptIsNil(t *testing.T) {
	base := t.TempDir()
	path := Path(base, "run-1", "worker")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	assert.Nil(t, Load("run-1", "worker", base))
}

func TestLoadAllSkipsCorrupt(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"worker", "tester", "architect"} {
		require.NoError(t, sample(name).Save(base))
	}
	dir := RunDir(base, "run-1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	all := LoadAll("run-1", base)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "tester")
	assert.Equal(t, "sess-architect", all["architect"].SessionID)
}

func TestLoadAllMissingDir(t *testing.T) {
	assert.Empty(t, LoadAll("run-x", t.TempDir()))
}

func TestClear(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, sample("worker").Save(base))

	require.NoError(t, Clear("run-1", base))
	assert.Nil(t, Load("run-1", "worker", base))
	assert.NoDirExists(t, RunDir(base, "run-1"))
}

func TestClearMissingIsNoop(t *testing.T) {
	assert.NoError(t, Clear("never-existed", t.TempDir()))
}

func TestSaveRequiresIdentity(t *testing.T) {
	assert.Error(t, (&Checkpoint{AgentName: "worker"}).Save(t.TempDir()))
}

func TestRuns(t *testing.T) {
	base := t.TempDir()
	a := sample("worker")
	a.RunID = "run-b"
	b := sample("worker")
	b.RunID = "run-a"
	require.NoError(t, a.Save(base))
	require.NoError(t, b.Save(base))

	assert.Equal(t, []string{"run-a", "run-b"}, Runs(base))
}
