package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kylegalloway/kodo/internal/runlog"
)

// ResumeDecision is the human's choice when an incomplete run is found.
type ResumeDecision int

const (
	ResumeRun ResumeDecision = iota
	StartFresh
)

// Prompter is the interface for human interaction.
type Prompter interface {
	ResumePrompt(rs *runlog.RunState) ResumeDecision
	Warn(msg string)
	Info(msg string)
}

// TerminalPrompter implements Prompter using terminal I/O.
type TerminalPrompter struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
}

// NewTerminalPrompter creates a TerminalPrompter using stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return NewPrompter(os.Stdin, os.Stdout)
}

// NewPrompter creates a TerminalPrompter over arbitrary streams.
func NewPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{reader: bufio.NewReader(in), writer: out}
}

func (p *TerminalPrompter) ResumePrompt(rs *runlog.RunState) ResumeDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "\nIncomplete run found: %s\n", rs.RunID)
	fmt.Fprintf(p.writer, "  Goal: %s\n", truncateLine(rs.Goal, 100))
	if !rs.StartTime.IsZero() {
		fmt.Fprintf(p.writer, "  Started: %s\n", rs.StartTime.Local().Format(time.DateTime))
	}
	fmt.Fprintf(p.writer, "  Cycles completed: %d", len(rs.Cycles))
	if rs.MaxCycles > 0 {
		fmt.Fprintf(p.writer, " / %d", rs.MaxCycles)
	}
	fmt.Fprintln(p.writer)
	if rs.HasStages {
		fmt.Fprintf(p.writer, "  Stages completed: %d\n", countFinished(rs.Stages))
	}
	fmt.Fprintf(p.writer, "\n(r)esume / (f)resh? ")
	line, _ := p.reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "r", "resume", "":
		return ResumeRun
	default:
		return StartFresh
	}
}

func (p *TerminalPrompter) Warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "WARNING: %s\n", msg)
}

func (p *TerminalPrompter) Info(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "%s\n", msg)
}

// ScriptedPrompter implements Prompter with predetermined decisions for testing.
type ScriptedPrompter struct {
	ResumeDecisions []ResumeDecision
	Messages        []string
	// Quiet suppresses the stderr echo.
	Quiet bool

	mu        sync.Mutex
	resumeIdx int
}

func (p *ScriptedPrompter) ResumePrompt(rs *runlog.RunState) ResumeDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumeIdx < len(p.ResumeDecisions) {
		d := p.ResumeDecisions[p.resumeIdx]
		p.resumeIdx++
		return d
	}
	return StartFresh
}

// NewScriptedPrompterFromFile creates a ScriptedPrompter by reading decisions from a file.
// File format: one decision per line (resume/fresh).
func NewScriptedPrompterFromFile(path string) *ScriptedPrompter {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ScriptedPrompter{}
	}

	p := &ScriptedPrompter{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch strings.ToLower(line) {
		case "resume":
			p.ResumeDecisions = append(p.ResumeDecisions, ResumeRun)
		case "fresh":
			p.ResumeDecisions = append(p.ResumeDecisions, StartFresh)
		}
	}
	return p
}

func (p *ScriptedPrompter) Warn(msg string) {
	p.record("WARN: " + msg)
	if !p.Quiet {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", msg)
	}
}

func (p *ScriptedPrompter) Info(msg string) {
	p.record(msg)
	if !p.Quiet {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	}
}

func (p *ScriptedPrompter) record(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, msg)
}

// Recorded returns a copy of the messages shown so far.
func (p *ScriptedPrompter) Recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Messages...)
}

func countFinished(stages []runlog.StageRecord) int {
	n := 0
	for _, s := range stages {
		if s.Finished {
			n++
		}
	}
	return n
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
