package ui

import (
	"strings"
	"testing"
	"time"
)

func TestFormatProgress(t *testing.T) {
	ps := ProgressState{
		Cycle:     2,
		MaxCycles: 5,
		Exchanges: 12,
		CostUSD:   2.50,
		StartTime: time.Now().Add(-5 * time.Minute),
	}

	got := FormatProgress(ps)
	if !strings.Contains(got, "cycle 2/5") {
		t.Errorf("missing cycle: %s", got)
	}
	if strings.Contains(got, "stage") {
		t.Errorf("unstaged progress mentions a stage: %s", got)
	}
	if !strings.Contains(got, "12 exchanges") {
		t.Errorf("missing exchanges: %s", got)
	}
	if !strings.Contains(got, "$2.50") {
		t.Errorf("missing cost: %s", got)
	}
}

func TestFormatProgressStaged(t *testing.T) {
	got := FormatProgress(ProgressState{Cycle: 1, MaxCycles: 4, Stage: 2, StageTotal: 3, StageName: "API", StartTime: time.Now()})
	if !strings.Contains(got, "stage 2/3 API") {
		t.Errorf("missing stage: %s", got)
	}
}

func TestFormatRunSummary(t *testing.T) {
	rs := RunSummary{
		RunID:       "run-123",
		Cycles:      3,
		Exchanges:   40,
		CostUSD:     5.25,
		CostLimit:   10.0,
		Duration:    15 * time.Minute,
		LastSummary: "tests still failing",
	}

	got := FormatRunSummary(rs)
	for _, want := range []string{"run-123", "incomplete", "Cycles:     3", "$5.25", "52.5% used", "tests still failing"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatRunSummaryFinished(t *testing.T) {
	got := FormatRunSummary(RunSummary{RunID: "r", Finished: true, StagesCompleted: 2, StageTotal: 2, LastSummary: "x"})
	if !strings.Contains(got, "finished") {
		t.Errorf("missing status: %s", got)
	}
	if !strings.Contains(got, "Stages:     2/2") {
		t.Errorf("missing stages: %s", got)
	}
	if strings.Contains(got, "Last summary") {
		t.Errorf("finished run shows carry-forward summary: %s", got)
	}
}
