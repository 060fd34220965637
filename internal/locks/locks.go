// Package locks provides advisory flock-based locks under a project's
// .kodo directory, used to keep two runs off the same project.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// RunLock is the lock a run holds on its project for its whole lifetime.
const RunLock = "run"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// Manager handles advisory file locking via flock.
type Manager struct {
	lockDir string
	held    map[string]*os.File // lock name -> open file handle
	mu      sync.Mutex
}

// NewManager creates a lock Manager.
func NewManager(lockDir string) *Manager {
	return &Manager{
		lockDir: lockDir,
		held:    make(map[string]*os.File),
	}
}

// lockFilePath converts a lock name to a lock file path.
// Path separators are replaced with double underscores.
func (m *Manager) lockFilePath(name string) string {
	normalized := strings.ReplaceAll(name, string(filepath.Separator), "__")
	return filepath.Join(m.lockDir, normalized+".lock")
}

// Acquire takes the named lock for owner. It fails immediately with
// ErrLocked if the lock is already held (non-blocking flock).
func (m *Manager) Acquire(name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrLocked)
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	lockPath := m.lockFilePath(name)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	// Non-blocking exclusive lock
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if holder, herr := m.readHolder(lockPath); herr == nil && holder != "" {
			return fmt.Errorf("%s held by %s: %w", name, holder, ErrLocked)
		}
		return fmt.Errorf("%s: %w", name, ErrLocked)
	}

	// Write lock metadata
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%s %d %s\n", owner, os.Getpid(), time.Now().Format(time.RFC3339))

	m.held[name] = f
	return nil
}

// Release releases the named lock if this manager holds it.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(name)
}

func (m *Manager) release(name string) {
	f, ok := m.held[name]
	if !ok {
		return
	}
	os.Remove(m.lockFilePath(name))
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
	delete(m.held, name)
}

// ReleaseAll releases all held locks.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.held {
		m.release(name)
	}
}

// IsHeld returns true if this manager holds the named lock.
func (m *Manager) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// Holder returns the metadata line written by the lock's current or last
// holder: "<owner> <pid> <time>".
func (m *Manager) Holder(name string) (string, error) {
	return m.readHolder(m.lockFilePath(name))
}

func (m *Manager) readHolder(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// CleanStale removes lock files whose holder process is no longer alive
// and returns how many it removed.
func (m *Manager) CleanStale() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read lock dir: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		lockPath := filepath.Join(m.lockDir, entry.Name())

		// Try to acquire the lock; if successful, it's stale
		f, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			// Lock acquired -> it was stale, remove it
			os.Remove(lockPath)
			syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			cleaned++
		}
		f.Close()
	}
	return cleaned, nil
}
