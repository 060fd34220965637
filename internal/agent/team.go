package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/session"
)

// Team maps agent names to agents. It is the only way the orchestrator and
// the dispatcher reach a worker.
type Team map[string]*Agent

// Get returns the named agent.
func (t Team) Get(name string) (*Agent, bool) {
	a, ok := t[name]
	return a, ok
}

// Names returns the member names, sorted.
func (t Team) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetRun attaches run to every member.
func (t Team) SetRun(run *runlog.Run) {
	for _, a := range t {
		a.SetRun(run)
	}
}

// InjectSessionIDs points each member whose session can resume at its
// prior backend conversation. It returns the names that were injected.
func (t Team) InjectSessionIDs(ids map[string]string) []string {
	var injected []string
	for _, name := range t.Names() {
		id, ok := ids[name]
		if !ok || id == "" {
			continue
		}
		if r, ok := t[name].session.(session.Resumer); ok {
			r.SetSessionID(id)
			injected = append(injected, name)
		}
	}
	return injected
}

// CloseAll closes every member concurrently and joins their errors.
func (t Team) CloseAll() error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, a := range t {
		g.Go(func() error {
			if err := a.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
