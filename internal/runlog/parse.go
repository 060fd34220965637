package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CycleRecord is one cycle_end event.
type CycleRecord struct {
	Cycle      int
	StageIndex int // -1 for unstaged runs
	Finished   bool
	Summary    string
	CostUSD    float64
}

// StageRecord is one stage_end event.
type StageRecord struct {
	Index    int
	Name     string
	Finished bool
	Summary  string
}

// RunState is what a run log says about a run.
type RunState struct {
	RunID        string
	Path         string
	Goal         string
	Orchestrator string
	Model        string
	ProjectDir   string
	MaxExchanges int
	MaxCycles    int
	Team         []string
	HasStages    bool
	StartTime    time.Time

	Started  bool
	Ended    bool
	Finished bool

	Cycles        []CycleRecord
	Stages        []StageRecord
	AgentSessions map[string]string
}

// Incomplete reports whether the run made progress but never finished.
func (s *RunState) Incomplete() bool {
	return s.Started && len(s.Cycles) > 0 && !s.Finished
}

// LastSummary returns the most recent cycle summary.
func (s *RunState) LastSummary() string {
	if len(s.Cycles) == 0 {
		return ""
	}
	return s.Cycles[len(s.Cycles)-1].Summary
}

// ParseRun reads a run log. Unparsable lines are skipped; only a failure
// to open the file is an error.
func ParseRun(path string) (*RunState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	st := &RunState{
		RunID:         strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		Path:          path,
		AgentSessions: make(map[string]string),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		st.apply(event(rec))
	}
	return st, nil
}

type event map[string]any

func (e event) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e event) num(key string) float64 {
	n, _ := e[key].(float64)
	return n
}

func (e event) intOr(key string, def int) int {
	if n, ok := e[key].(float64); ok {
		return int(n)
	}
	return def
}

func (e event) flag(key string) bool {
	b, _ := e[key].(bool)
	return b
}

func (st *RunState) apply(e event) {
	switch e.str("event") {
	case EventRunStart:
		st.Started = true
		if id := e.str("run_id"); id != "" {
			st.RunID = id
		}
		st.Goal = e.str("goal")
		st.Orchestrator = e.str("orchestrator")
		st.Model = e.str("model")
		st.ProjectDir = e.str("project_dir")
		st.MaxExchanges = e.intOr("max_exchanges", 0)
		st.MaxCycles = e.intOr("max_cycles", 0)
		st.HasStages = e.flag("has_stages")
		if team, ok := e["team"].([]any); ok {
			st.Team = st.Team[:0]
			for _, m := range team {
				if name, ok := m.(string); ok {
					st.Team = append(st.Team, name)
				}
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, e.str("ts")); err == nil {
			st.StartTime = ts
		}
	case EventRunResumed:
		st.Ended = false
		st.Finished = false
	case EventCycleEnd:
		st.Cycles = append(st.Cycles, CycleRecord{
			Cycle:      e.intOr("cycle", len(st.Cycles)+1),
			StageIndex: e.intOr("stage_index", -1),
			Finished:   e.flag("finished"),
			Summary:    e.str("summary"),
			CostUSD:    e.num("cost_usd"),
		})
	case EventStageEnd:
		st.Stages = append(st.Stages, StageRecord{
			Index:    e.intOr("stage_index", -1),
			Name:     e.str("stage_name"),
			Finished: e.flag("finished"),
			Summary:  e.str("summary"),
		})
	case EventSessionQueryEnd:
		name := e.str("session")
		id := e.str("session_id")
		if id == "" {
			id = e.str("chat_id")
		}
		if name != "" && id != "" {
			st.AgentSessions[name] = id
		}
	case EventRunEnd:
		st.Ended = true
		st.Finished = e.flag("finished")
	}
}

// FindIncompleteRuns scans the project's log directory for runs that made
// progress but never finished, newest first.
func FindIncompleteRuns(projectDir string) ([]*RunState, error) {
	paths, err := filepath.Glob(filepath.Join(projectDir, Dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}

	var runs []*RunState
	for _, p := range paths {
		st, err := ParseRun(p)
		if err != nil {
			continue
		}
		if st.Incomplete() {
			runs = append(runs, st)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	return runs, nil
}
