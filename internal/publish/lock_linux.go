// SPDX-License-Identifier: MPL-2.0

//go:build linux

package publish

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// errFlockUnavailable is never returned on Linux; it exists for parity with
// lock_other.go.
var errFlockUnavailable = errors.New("flock not available on this platform")

// runLock holds a blocking exclusive flock on the repository lock file. The
// kernel drops the lock when the descriptor closes, including on a crash, so
// an orphaned lock file is harmless.
type runLock struct {
	file *os.File
}

// acquireRunLock opens (or creates) lockPath and blocks until the exclusive
// flock is granted.
func acquireRunLock(lockPath string) (*runLock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}
	return &runLock{file: f}, nil
}

// Release unlocks and closes the lock file. Subsequent calls are no-ops.
func (l *runLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}
