// Package checkpoint persists per-agent progress snapshots so a crashed run
// can be resumed without rebuilding context.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kylegalloway/kodo/internal/fsutil"
)

// Dir is the checkpoint root relative to the project directory.
var Dir = filepath.Join(".kodo", "checkpoints")

// Checkpoint is a snapshot of one agent's cumulative progress in a run.
type Checkpoint struct {
	AgentName           string
	SessionID           string // empty when the backend has no session id
	RunID               string
	Timestamp           time.Time
	TokensUsed          int
	QueriesCompleted    int
	CostUSD             float64
	ConversationSummary string
}

type record struct {
	AgentName           string    `json:"agent_name"`
	SessionID           *string   `json:"session_id"`
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	TokensUsed          int       `json:"tokens_used"`
	QueriesCompleted    int       `json:"queries_completed"`
	CostUSD             float64   `json:"cost_usd"`
	ConversationSummary string    `json:"conversation_summary"`
}

func (c Checkpoint) MarshalJSON() ([]byte, error) {
	r := record{
		AgentName:           c.AgentName,
		RunID:               c.RunID,
		Timestamp:           c.Timestamp,
		TokensUsed:          c.TokensUsed,
		QueriesCompleted:    c.QueriesCompleted,
		CostUSD:             c.CostUSD,
		ConversationSummary: c.ConversationSummary,
	}
	if c.SessionID != "" {
		r.SessionID = &c.SessionID
	}
	return json.Marshal(r)
}

func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.AgentName == "" || r.RunID == "" {
		return errors.New("checkpoint missing agent_name or run_id")
	}
	*c = Checkpoint{
		AgentName:           r.AgentName,
		RunID:               r.RunID,
		Timestamp:           r.Timestamp,
		TokensUsed:          r.TokensUsed,
		QueriesCompleted:    r.QueriesCompleted,
		CostUSD:             r.CostUSD,
		ConversationSummary: r.ConversationSummary,
	}
	if r.SessionID != nil {
		c.SessionID = *r.SessionID
	}
	return nil
}

// RunDir returns the directory holding every checkpoint of runID.
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, Dir, runID)
}

// Path returns the checkpoint file for (runID, agentName).
func Path(baseDir, runID, agentName string) string {
	return filepath.Join(RunDir(baseDir, runID), fileName(agentName))
}

func fileName(agentName string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(agentName) + ".json"
}

// Save writes the checkpoint, replacing any previous one for the same
// (run, agent) pair.
func (c *Checkpoint) Save(baseDir string) error {
	if c.RunID == "" || c.AgentName == "" {
		return errors.New("checkpoint requires run id and agent name")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(Path(baseDir, c.RunID, c.AgentName), data); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", c.RunID, c.AgentName, err)
	}
	return nil
}

// Load returns the checkpoint for (runID, agentName), or nil when it is
// missing or unreadable.
func Load(runID, agentName, baseDir string) *Checkpoint {
	return readFile(Path(baseDir, runID, agentName))
}

// LoadAll returns every readable checkpoint of runID keyed by agent name.
// Unparsable files are skipped.
func LoadAll(runID, baseDir string) map[string]*Checkpoint {
	out := make(map[string]*Checkpoint)
	entries, err := os.ReadDir(RunDir(baseDir, runID))
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if cp := readFile(filepath.Join(RunDir(baseDir, runID), e.Name())); cp != nil {
			out[cp.AgentName] = cp
		}
	}
	return out
}

// Clear removes every checkpoint of runID. A missing directory is not an
// error.
func Clear(runID, baseDir string) error {
	if err := os.RemoveAll(RunDir(baseDir, runID)); err != nil {
		return fmt.Errorf("clear checkpoints for %s: %w", runID, err)
	}
	return nil
}

// Runs lists run ids that have a checkpoint directory, sorted.
func Runs(baseDir string) []string {
	entries, err := os.ReadDir(filepath.Join(baseDir, Dir))
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids
}

func readFile(path string) *Checkpoint {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return &cp
}
