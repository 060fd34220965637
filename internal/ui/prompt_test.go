package ui

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kylegalloway/kodo/internal/runlog"
)

func TestScriptedPrompterResume(t *testing.T) {
	p := &ScriptedPrompter{
		ResumeDecisions: []ResumeDecision{ResumeRun, StartFresh},
		Quiet:           true,
	}
	rs := &runlog.RunState{RunID: "r1"}

	if d := p.ResumePrompt(rs); d != ResumeRun {
		t.Errorf("first = %d, want ResumeRun", d)
	}
	if d := p.ResumePrompt(rs); d != StartFresh {
		t.Errorf("second = %d, want StartFresh", d)
	}
	// Exhausted -> default to fresh
	if d := p.ResumePrompt(rs); d != StartFresh {
		t.Errorf("exhausted = %d, want StartFresh", d)
	}
}

func TestScriptedPrompterMessages(t *testing.T) {
	p := &ScriptedPrompter{Quiet: true}
	p.Info("cycle 1")
	p.Warn("budget")

	got := p.Recorded()
	if len(got) != 2 || got[0] != "cycle 1" || got[1] != "WARN: budget" {
		t.Errorf("messages = %v", got)
	}
}

func TestScriptedPrompterFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.txt")
	content := "# comment\nresume\n\nfresh\nbogus\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewScriptedPrompterFromFile(path)
	if len(p.ResumeDecisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(p.ResumeDecisions))
	}
	if p.ResumeDecisions[0] != ResumeRun || p.ResumeDecisions[1] != StartFresh {
		t.Errorf("decisions = %v", p.ResumeDecisions)
	}
}

func TestScriptedPrompterFromMissingFile(t *testing.T) {
	p := NewScriptedPrompterFromFile("/nonexistent/path")
	if len(p.ResumeDecisions) != 0 {
		t.Errorf("expected empty prompter")
	}
}

func TestTerminalPrompterResume(t *testing.T) {
	tests := []struct {
		input string
		want  ResumeDecision
	}{
		{"r\n", ResumeRun},
		{"resume\n", ResumeRun},
		{"\n", ResumeRun},
		{"f\n", StartFresh},
		{"nope\n", StartFresh},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := NewPrompter(strings.NewReader(tt.input), &out)
		rs := &runlog.RunState{RunID: "abc", Goal: "build it", MaxCycles: 5, Cycles: make([]runlog.CycleRecord, 2)}
		if got := p.ResumePrompt(rs); got != tt.want {
			t.Errorf("input %q: got %d, want %d", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Cycles completed: 2 / 5") {
			t.Errorf("missing cycle count in %q", out.String())
		}
	}
}

func TestTerminalPrompterWarn(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader(""), &out)
	p.Warn("careful")
	p.Info("hello")
	if out.String() != "WARNING: careful\nhello\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("a\nb", 10); got != "a b" {
		t.Errorf("got %q", got)
	}
	if got := truncateLine(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("got %q", got)
	}
}
