// Package dirlock guards a node's data directory against concurrent
// use by another process. The lock is advisory: an flock on
// <dir>/.skiff.lock, acquired without blocking so a second node fails
// fast instead of queueing behind the first.
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrBusy means another process holds the directory.
var ErrBusy = errors.New("dirlock: directory already locked")

const lockFileName = ".skiff.lock"

// Lock is a held directory lock. Release it exactly once.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the exclusive lock for dir, creating dir and the lock
// file as needed. The holder's pid is written into the file for
// operator diagnostics; the lock itself is the flock, not the content.
func Acquire(dir string) (*Lock, error) {
	if dir == "" {
		return nil, errors.New("dirlock: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
		}
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. The lock file is left in place; removing it
// would race with a concurrent Acquire on the same path.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return cerr
}

// Path returns the lock file location, for log lines.
func (l *Lock) Path() string { return l.path }
