package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

// RunLock provides cross-process mutual exclusion for one platform using
// flock(2). Persisted state assumes a single writer per platform; the run
// command holds this lock for the duration of a campaign.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock creates a RunLock for platform under dir. The lock file is
// <dir>/<slug>/run.lock.
func NewRunLock(dir, platform string) *RunLock {
	return &RunLock{
		path: filepath.Join(dir, util.Slug(platform), lockFile),
	}
}

// Path returns the lock file path.
func (rl *RunLock) Path() string {
	return rl.path
}

func (rl *RunLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(rl.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

// Lock acquires the lock, blocking until available.
func (rl *RunLock) Lock() error {
	f, err := rl.open()
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	rl.file = f
	return nil
}

// TryLock acquires the lock without blocking. It returns ErrRunLocked when
// another process holds it.
func (rl *RunLock) TryLock() error {
	f, err := rl.open()
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("%w: %s", errors.ErrRunLocked, rl.path)
		}
		return fmt.Errorf("flock: %w", err)
	}
	rl.file = f
	return nil
}

// Unlock releases the lock and closes the lock file.
func (rl *RunLock) Unlock() error {
	if rl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(rl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = rl.file.Close()
		rl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := rl.file.Close()
	rl.file = nil
	return err
}
