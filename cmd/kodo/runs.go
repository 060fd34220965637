package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/kodo/internal/checkpoint"
	"github.com/kylegalloway/kodo/internal/locks"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/state"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(cleanCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List incomplete runs that can be resumed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		runs, err := runlog.FindIncompleteRuns(a.projectDir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No incomplete runs.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTARTED\tCYCLES\tSTAGES\tGOAL")
		for _, r := range runs {
			stages := "-"
			if r.HasStages {
				done := 0
				for _, s := range r.Stages {
					if s.Finished {
						done++
					}
				}
				stages = fmt.Sprintf("%d done", done)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.RunID, r.StartTime.Local().Format("2006-01-02 15:04"), len(r.Cycles), stages, oneLine(r.Goal, 60))
		}
		return w.Flush()
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean <run-id>",
	Short: "Clear a run's checkpoints and stale state",
	Long: `Clear the checkpoints of a run, drop the crash-recovery state file when it
points at that run, and remove stale lock files. The run log is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		runID := args[0]

		if err := checkpoint.Clear(runID, a.projectDir); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared checkpoints for %s.\n", runID)

		stateMgr := state.NewManager(a.kodoDir)
		if stateMgr.Exists() {
			if rs, err := stateMgr.Load(); err != nil || rs.RunID == runID {
				if err := stateMgr.Remove(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Removed recovery state.")
			}
		}

		n, err := locks.NewManager(filepath.Join(a.kodoDir, "locks")).CleanStale()
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(out, "Removed %d stale lock(s).\n", n)
		}
		return nil
	},
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r = r[:i]
			break
		}
	}
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}
