//go:build unix || linux || darwin

package dirlock

import (
	"errors"
	"syscall"
)

var errWouldBlock = errors.New("dirlock: would block")

func tryLock(f interface{ Fd() uintptr }) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return errWouldBlock
	}
	return err
}

func unlock(f interface{ Fd() uintptr }) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
