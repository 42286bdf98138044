package datalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshills/amaranthine/pkg/types"
)

// LockName is the zero-byte companion lock file inside the data directory.
const LockName = ".lock"

// lockRetryBudget bounds how long AcquireLock spins before ErrLockBusy.
const lockRetryBudget = time.Second

// FileLock is an exclusive POSIX advisory lock on the data directory's
// companion lock file. All mutating operations hold it across the full
// append + index rebuild pipeline. Readers never take it.
type FileLock struct {
	f *os.File
}

// AcquireLock takes the exclusive lock, retrying with backoff for about one
// second before giving up with ErrLockBusy.
func AcquireLock(dir string) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %v: %w", dir, err, types.ErrIO)
	}
	path := filepath.Join(dir, LockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, types.ErrIO)
	}

	backoff := 5 * time.Millisecond
	deadline := time.Now().Add(lockRetryBudget)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &FileLock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, fmt.Errorf("flock %s: %v: %w", path, err, types.ErrIO)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, types.ErrLockBusy)
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Release drops the lock. The flock is released when the descriptor closes.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
