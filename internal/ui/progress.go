package ui

import (
	"fmt"
	"strings"
	"time"
)

// ProgressState holds the current state for progress display.
type ProgressState struct {
	Cycle      int
	MaxCycles  int
	Stage      int
	StageTotal int
	StageName  string
	Exchanges  int
	CostUSD    float64
	StartTime  time.Time
}

// RunSummary holds the final report for a run.
type RunSummary struct {
	RunID           string
	Finished        bool
	Cycles          int
	StagesCompleted int
	StageTotal      int
	Exchanges       int
	CostUSD         float64
	CostLimit       float64
	Duration        time.Duration
	LastSummary     string
	LogPath         string
}

// FormatProgress returns a single-line progress string shown after each cycle.
func FormatProgress(ps ProgressState) string {
	elapsed := time.Since(ps.StartTime).Truncate(time.Second)
	var b strings.Builder
	fmt.Fprintf(&b, "[cycle %d/%d", ps.Cycle, ps.MaxCycles)
	if ps.StageTotal > 0 {
		fmt.Fprintf(&b, " | stage %d/%d %s", ps.Stage, ps.StageTotal, ps.StageName)
	}
	fmt.Fprintf(&b, "] %d exchanges | $%.2f | %v elapsed", ps.Exchanges, ps.CostUSD, elapsed)
	return b.String()
}

// FormatRunSummary returns a multi-line summary for end-of-run display.
func FormatRunSummary(rs RunSummary) string {
	var b strings.Builder
	b.WriteString("\n=== Run Summary ===\n")
	b.WriteString(fmt.Sprintf("Run:        %s\n", rs.RunID))
	if rs.Finished {
		b.WriteString("Status:     finished\n")
	} else {
		b.WriteString("Status:     incomplete\n")
	}
	b.WriteString(fmt.Sprintf("Duration:   %v\n", rs.Duration.Truncate(time.Second)))
	b.WriteString(fmt.Sprintf("Cycles:     %d\n", rs.Cycles))
	if rs.StageTotal > 0 {
		b.WriteString(fmt.Sprintf("Stages:     %d/%d\n", rs.StagesCompleted, rs.StageTotal))
	}
	b.WriteString(fmt.Sprintf("Exchanges:  %d\n", rs.Exchanges))
	b.WriteString("\nCost:\n")
	b.WriteString(fmt.Sprintf("  Total:     $%.4f\n", rs.CostUSD))
	if rs.CostLimit > 0 {
		pct := (rs.CostUSD / rs.CostLimit) * 100
		b.WriteString(fmt.Sprintf("  Limit:     $%.2f (%.1f%% used)\n", rs.CostLimit, pct))
	}
	if !rs.Finished && rs.LastSummary != "" {
		b.WriteString("\nLast summary:\n")
		b.WriteString(rs.LastSummary)
		b.WriteString("\n")
	}
	if rs.LogPath != "" {
		b.WriteString(fmt.Sprintf("\nLog: %s\n", rs.LogPath))
	}
	b.WriteString("===================\n")
	return b.String()
}
