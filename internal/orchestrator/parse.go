package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kylegalloway/kodo/internal/dispatch"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// rawDirective is the wire form of a conductor directive.
type rawDirective struct {
	Action          string              `json:"action"`
	Agent           string              `json:"agent"`
	Directive       string              `json:"directive"`
	NewConversation bool                `json:"new_conversation"`
	Tasks           []dispatch.TaskSpec `json:"tasks"`
	Summary         string              `json:"summary"`
	Success         *bool               `json:"success"`
	Text            string              `json:"text"`
}

// ParseDirective extracts one directive from conductor output. The last
// fenced JSON block wins; without one, the outermost braces are tried.
func ParseDirective(text string) (Directive, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var rd rawDirective
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		return nil, fmt.Errorf("parse directive: %w", err)
	}

	switch strings.ToLower(rd.Action) {
	case "delegate":
		if rd.Agent == "" || rd.Directive == "" {
			return nil, fmt.Errorf("delegate needs agent and directive")
		}
		return Delegate{Agent: rd.Agent, Directive: rd.Directive, NewConversation: rd.NewConversation}, nil
	case "parallel":
		if len(rd.Tasks) == 0 {
			return nil, fmt.Errorf("parallel needs at least one task")
		}
		for i, t := range rd.Tasks {
			if t.ID == "" || t.Agent == "" || t.Directive == "" {
				return nil, fmt.Errorf("parallel task %d needs id, agent and directive", i)
			}
		}
		return Parallel{Tasks: rd.Tasks}, nil
	case "done":
		success := true
		if rd.Success != nil {
			success = *rd.Success
		}
		return Done{Summary: rd.Summary, Success: success}, nil
	case "note":
		return Note{Text: rd.Text}, nil
	case "":
		return nil, fmt.Errorf("directive has no action")
	default:
		return nil, fmt.Errorf("unknown action %q", rd.Action)
	}
}

func extractJSON(text string) (string, error) {
	if m := fencedJSON.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return m[len(m)-1][1], nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON directive found")
	}
	return text[start : end+1], nil
}
