package runlog

// ResumeState is everything needed to continue an interrupted run.
type ResumeState struct {
	RunID           string
	Goal            string
	CompletedCycles int
	LastSummary     string
	// AgentSessionIDs maps agent name to backend session id.
	AgentSessionIDs map[string]string
	// CompletedStages are the stage indices that finished, in order.
	CompletedStages []int
	StageSummaries  map[int]string
	// CurrentStageCycles counts cycles already spent in the stage that was
	// in progress when the run stopped.
	CurrentStageCycles int
}

// StageCompleted reports whether stage idx finished in the prior run.
func (rs *ResumeState) StageCompleted(idx int) bool {
	for _, i := range rs.CompletedStages {
		if i == idx {
			return true
		}
	}
	return false
}

// ResumeState derives the resume state of a parsed run.
func (s *RunState) ResumeState() *ResumeState {
	rs := &ResumeState{
		RunID:           s.RunID,
		Goal:            s.Goal,
		CompletedCycles: len(s.Cycles),
		LastSummary:     s.LastSummary(),
		AgentSessionIDs: make(map[string]string, len(s.AgentSessions)),
		StageSummaries:  make(map[int]string),
	}
	for name, id := range s.AgentSessions {
		rs.AgentSessionIDs[name] = id
	}
	for _, stage := range s.Stages {
		if stage.Finished && !rs.StageCompleted(stage.Index) {
			rs.CompletedStages = append(rs.CompletedStages, stage.Index)
			rs.StageSummaries[stage.Index] = stage.Summary
		}
	}
	// The in-progress stage is the one the last cycle belonged to, unless
	// that cycle finished it.
	if n := len(s.Cycles); n > 0 {
		if cur := s.Cycles[n-1].StageIndex; cur > 0 && !rs.StageCompleted(cur) {
			for _, c := range s.Cycles {
				if c.StageIndex == cur {
					rs.CurrentStageCycles++
				}
			}
		}
	}
	return rs
}
