// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package publish

import "errors"

// errFlockUnavailable makes the publisher fall back to its in-process mutex.
var errFlockUnavailable = errors.New("flock not available on this platform")

// acquireRunLock is not supported outside Linux.
func acquireRunLock(string) (*runLock, error) {
	return nil, errFlockUnavailable
}

type runLock struct{}

// Release is a no-op.
func (l *runLock) Release() error { return nil }
