package orchestrator

// CycleResult is one bounded attempt at progress.
type CycleResult struct {
	Exchanges int
	CostUSD   float64
	Finished  bool
	Success   bool
	// Summary carries progress forward into the next cycle.
	Summary string
	// StageIndex is the 1-based stage the cycle belongs to, or 0 when
	// the run is unstaged.
	StageIndex int
}

// StageResult groups the cycles spent on one stage.
type StageResult struct {
	Index    int
	Name     string
	Cycles   []CycleResult
	Finished bool
	Summary  string
}

// RunResult is everything a run produced, in order.
type RunResult struct {
	RunID  string
	Cycles []CycleResult
	Stages []StageResult
	// StageTotal is the plan's stage count, 0 for unstaged runs.
	StageTotal int
	// StagesResumed counts stages a resumed run found already finished.
	StagesResumed int
}

// TotalExchanges sums exchanges across cycles.
func (r *RunResult) TotalExchanges() int {
	n := 0
	for _, c := range r.Cycles {
		n += c.Exchanges
	}
	return n
}

// TotalCostUSD sums cost across cycles.
func (r *RunResult) TotalCostUSD() float64 {
	var total float64
	for _, c := range r.Cycles {
		total += c.CostUSD
	}
	return total
}

// Finished reports whether the run reached its goal: every stage of a
// staged run, or the last cycle of an unstaged one.
func (r *RunResult) Finished() bool {
	if r.StageTotal > 0 {
		return r.StagesCompleted() >= r.StageTotal
	}
	if len(r.Cycles) == 0 {
		return false
	}
	return r.Cycles[len(r.Cycles)-1].Finished
}

// Summary returns the last cycle's summary.
func (r *RunResult) Summary() string {
	if len(r.Cycles) == 0 {
		return ""
	}
	return r.Cycles[len(r.Cycles)-1].Summary
}

// StagesCompleted counts finished stages, including resumed ones.
func (r *RunResult) StagesCompleted() int {
	n := r.StagesResumed
	for _, s := range r.Stages {
		if s.Finished {
			n++
		}
	}
	return n
}
