package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/kodo/internal/dispatch"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Directive
	}{
		{
			name: "fenced delegate",
			in:   "I'll start with the schema.\n```json\n{\"action\":\"delegate\",\"agent\":\"worker\",\"directive\":\"write schema\"}\n```",
			want: Delegate{Agent: "worker", Directive: "write schema"},
		},
		{
			name: "bare object",
			in:   `Decision: {"action":"note","text":"thinking"} end`,
			want: Note{Text: "thinking"},
		},
		{
			name: "last fenced block wins",
			in:   "```json\n{\"action\":\"note\",\"text\":\"draft\"}\n```\nActually:\n```json\n{\"action\":\"note\",\"text\":\"final\"}\n```",
			want: Note{Text: "final"},
		},
		{
			name: "done defaults to success",
			in:   `{"action":"done","summary":"shipped"}`,
			want: Done{Summary: "shipped", Success: true},
		},
		{
			name: "done unsuccessful",
			in:   `{"action":"DONE","summary":"blocked","success":false}`,
			want: Done{Summary: "blocked", Success: false},
		},
		{
			name: "parallel",
			in:   `{"action":"parallel","tasks":[{"id":"a","agent":"architect","directive":"design"},{"id":"b","agent":"worker","directive":"build","depends_on":["a"]}]}`,
			want: Parallel{Tasks: []dispatch.TaskSpec{
				{ID: "a", Agent: "architect", Directive: "design"},
				{ID: "b", Agent: "worker", Directive: "build", DependsOn: []string{"a"}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDirective(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirectiveErrors(t *testing.T) {
	tests := map[string]string{
		"no json":             "I will delegate to the worker.",
		"malformed":           `{"action": "note", "text": }`,
		"missing action":      `{"agent":"worker"}`,
		"unknown action":      `{"action":"celebrate"}`,
		"delegate no agent":   `{"action":"delegate","directive":"x"}`,
		"empty parallel":      `{"action":"parallel","tasks":[]}`,
		"parallel task no id": `{"action":"parallel","tasks":[{"agent":"worker","directive":"x"}]}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDirective(in)
			assert.Error(t, err)
		})
	}
}
