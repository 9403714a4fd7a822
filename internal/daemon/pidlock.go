// Package daemon provides the one piece of process-supervisor mechanics
// this spec owns: an advisory pidfile lock so "serve" refuses to start a
// second writer against the same database. Start/stop/reload CLI
// plumbing and systemd unit emission are out of scope (spec.md §1) and
// live outside this module.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// PIDLock is an advisory, cross-process exclusive lock backed by a
// pidfile, mirroring the teacher's internal/embed.FileLock.
type PIDLock struct {
	path   string
	lock   *flock.Flock
	locked bool
}

// NewPIDLock returns a lock guarding path.
func NewPIDLock(path string) *PIDLock {
	return &PIDLock{path: path, lock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, writing the
// current process id into the pidfile on success.
func (p *PIDLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return false, fmt.Errorf("create pidfile directory: %w", err)
	}
	acquired, err := p.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire pidfile lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	p.locked = true
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return true, fmt.Errorf("write pidfile: %w", err)
	}
	return true, nil
}

// Unlock releases the lock. Safe to call on an unlocked PIDLock.
func (p *PIDLock) Unlock() error {
	if !p.locked {
		return nil
	}
	p.locked = false
	if err := p.lock.Unlock(); err != nil {
		return fmt.Errorf("release pidfile lock: %w", err)
	}
	return os.Remove(p.path)
}
