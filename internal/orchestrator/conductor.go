package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/retry"
	"github.com/kylegalloway/kodo/internal/sanitize"
	"github.com/kylegalloway/kodo/internal/session"
)

const (
	// overloadStatus is the backend's "overloaded" status code.
	overloadStatus = 529
	// overloadSwitch is how many consecutive overloads trigger the
	// fallback session.
	overloadSwitch = 2
	// conductorTurns is the turn limit for one conductor reply.
	conductorTurns = 1
)

// SessionConductor is a Conductor backed by a model Session that answers
// with JSON directives.
type SessionConductor struct {
	Primary session.Session
	// Fallback takes over after repeated overloads. Optional.
	Fallback session.Session
	Retry    *retry.Strategy
	Logger   *zap.Logger

	mu        sync.Mutex
	switched  bool
	overloads int
	spent     float64
}

func (c *SessionConductor) active() session.Session {
	if c.switched {
		return c.Fallback
	}
	return c.Primary
}

func (c *SessionConductor) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// CostUSD returns everything the conductor has spent.
func (c *SessionConductor) CostUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spent
}

// Switched reports whether the fallback session is in use.
func (c *SessionConductor) Switched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switched
}

// Next asks the model for a directive. The first turn of a cycle starts a
// fresh conversation with the full briefing. A reply without a valid
// directive is challenged once and then treated as a note.
func (c *SessionConductor) Next(ctx context.Context, turn Turn) (Directive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prompt := reportPrompt(turn)
	if turn.First() {
		c.active().Reset()
		prompt = Briefing(turn)
	}
	text, err := c.ask(ctx, prompt, turn)
	if err != nil {
		return nil, err
	}
	d, perr := ParseDirective(text)
	if perr == nil {
		return d, nil
	}

	c.logger().Debug("conductor reply had no directive", zap.Error(perr))
	text, err = c.ask(ctx, fmt.Sprintf("Your reply did not contain a valid directive (%v). "+
		"Reply with exactly one directive as a ```json fenced block.", perr), turn)
	if err != nil {
		return nil, err
	}
	if d, perr = ParseDirective(text); perr == nil {
		return d, nil
	}
	return Note{Text: text}, nil
}

// ask queries the active session with retries. Consecutive overloads move
// the conversation to the fallback session, which gets the full briefing.
func (c *SessionConductor) ask(ctx context.Context, prompt string, turn Turn) (string, error) {
	strategy := c.Retry
	if strategy == nil {
		strategy = retry.Default()
	}
	q, err := retry.Execute(ctx, strategy, func(ctx context.Context) (session.QueryResult, error) {
		q, err := c.active().Query(ctx, prompt, turn.WorkDir, conductorTurns)
		if err == nil {
			c.overloads = 0
			return q, nil
		}
		if !isOverload(err) || c.Fallback == nil || c.switched {
			return q, err
		}
		c.overloads++
		if c.overloads < overloadSwitch {
			return q, err
		}
		c.switched = true
		c.logger().Warn("conductor overloaded, switching to fallback session",
			zap.Int("overloads", c.overloads))
		if !turn.First() {
			prompt = Briefing(turn) + "\n\n" + reportPrompt(turn)
		}
		return c.active().Query(ctx, prompt, turn.WorkDir, conductorTurns)
	})
	if err != nil {
		return "", err
	}
	c.spent += q.CostUSD
	if q.IsError {
		return "", fmt.Errorf("conductor session error: %s", truncate(q.Text, 500))
	}
	return q.Text, nil
}

func isOverload(err error) bool {
	var sc retry.StatusCoder
	return errors.As(err, &sc) && sc.StatusCode() == overloadStatus
}

// Briefing is the opening prompt of a cycle.
func Briefing(turn Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the orchestrator of a team of coding agents working in %s. "+
		"You never edit code yourself: you direct the agents and judge their reports.\n\n", turn.WorkDir)
	b.WriteString("# Goal\n")
	b.WriteString(sanitize.Wrap(sanitize.TagGoal, turn.Goal))
	if turn.PriorSummary != "" {
		b.WriteString("\n\n# Progress from the previous cycle\n")
		b.WriteString(sanitize.Wrap(sanitize.TagPriorSummary, turn.PriorSummary))
	}
	b.WriteString("\n\n# Team\n")
	for _, m := range turn.Team {
		fmt.Fprintf(&b, "- %s: %s\n", m.Name, strings.ReplaceAll(m.Role, "\n", " "))
	}
	b.WriteString("\n# Protocol\n" +
		"Reply with exactly one directive as a ```json fenced block:\n" +
		`{"action":"delegate","agent":"<name>","directive":"<what to do>","new_conversation":false}` + "\n" +
		`{"action":"parallel","tasks":[{"id":"a","agent":"<name>","directive":"...","depends_on":[]}]}` + "\n" +
		`{"action":"note","text":"<plan or observation>"}` + "\n" +
		`{"action":"done","summary":"<what was achieved>","success":true}` + "\n" +
		"Calling done triggers independent verification; fix any issues it reports and call done again.\n")
	if turn.BrowserTesting {
		b.WriteString("Verification includes browser-based end-to-end testing.\n")
	}
	fmt.Fprintf(&b, "You have %d exchanges in this cycle.", turn.MaxExchanges)
	return b.String()
}

func reportPrompt(turn Turn) string {
	return fmt.Sprintf("# Result (exchange %d/%d)\n%s\n\nReply with your next directive.",
		turn.Exchange, turn.MaxExchanges, sanitize.Wrap(sanitize.TagReport, turn.Report))
}
