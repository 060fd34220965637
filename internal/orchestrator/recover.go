package orchestrator

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/checkpoint"
	"github.com/kylegalloway/kodo/internal/fsutil"
	"github.com/kylegalloway/kodo/internal/locks"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/state"
)

// RecoveryResult reports what startup recovery found.
type RecoveryResult struct {
	StaleLocksCleaned int
	// RecoveryState is the state file left by a run that never finished.
	RecoveryState  *state.RunState
	IncompleteRuns []*runlog.RunState
	// OrphanCheckpoints are checkpoint run ids with no run log.
	OrphanCheckpoints []string
	DiskWarning       string
}

// Recover performs startup checks: cleans stale locks, loads a leftover
// state file, lists incomplete runs and checks free disk space. Problems
// with individual steps are logged, not returned.
func Recover(projectDir string, lockMgr *locks.Manager, stateMgr *state.Manager, logger *zap.Logger) (*RecoveryResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &RecoveryResult{}

	// 1. Clean stale locks (lock holder process is gone)
	if lockMgr != nil {
		n, err := lockMgr.CleanStale()
		if err != nil {
			logger.Warn("stale lock cleanup", zap.Error(err))
		}
		result.StaleLocksCleaned = n
	}

	// 2. Check for crash recovery state
	if stateMgr != nil && stateMgr.Exists() {
		rs, err := stateMgr.Load()
		if err != nil {
			logger.Warn("could not load recovery state", zap.Error(err))
		} else {
			result.RecoveryState = rs
			logger.Info("found recovery state",
				zap.String("run_id", rs.RunID),
				zap.Int("cycle", rs.Cycle))
		}
	}

	// 3. Find incomplete runs
	runs, err := runlog.FindIncompleteRuns(projectDir)
	if err != nil {
		return nil, fmt.Errorf("find incomplete runs: %w", err)
	}
	result.IncompleteRuns = runs

	// 4. Checkpoints whose run log is gone
	for _, id := range checkpoint.Runs(projectDir) {
		if _, err := os.Stat(runlog.LogPath(projectDir, id)); os.IsNotExist(err) {
			result.OrphanCheckpoints = append(result.OrphanCheckpoints, id)
		}
	}

	// 5. Disk space
	if err := fsutil.CheckDiskSpace(projectDir, fsutil.MinDiskSpaceMB); err != nil {
		result.DiskWarning = err.Error()
		logger.Warn("disk space check", zap.Error(err))
	}

	return result, nil
}

// FormatRecoveryResult returns a human-readable summary of startup recovery.
func FormatRecoveryResult(r *RecoveryResult) string {
	if r == nil {
		return "No cleanup needed"
	}

	msg := ""
	if r.StaleLocksCleaned > 0 {
		msg += fmt.Sprintf("Cleaned %d stale lock(s). ", r.StaleLocksCleaned)
	}
	if r.RecoveryState != nil {
		msg += fmt.Sprintf("Interrupted run %s (cycle %d). ", r.RecoveryState.RunID, r.RecoveryState.Cycle)
	}
	if len(r.IncompleteRuns) > 0 {
		msg += fmt.Sprintf("%d incomplete run(s) can be resumed. ", len(r.IncompleteRuns))
	}
	if len(r.OrphanCheckpoints) > 0 {
		msg += fmt.Sprintf("%d orphan checkpoint set(s). ", len(r.OrphanCheckpoints))
	}
	if r.DiskWarning != "" {
		msg += r.DiskWarning + "."
	}
	if msg == "" {
		msg = "Clean startup, no stale state found."
	}
	return msg
}
