// Package singleinstance guarantees at most one flash engine runs at a time
// on a host, using a Linux abstract-namespace AF_UNIX socket as the lock.
// Grounded on
// original_source/src/platform/posix-common/single_instance.cpp.
package singleinstance

import (
	"fmt"
	"syscall"

	"github.com/gabriel2392/brokkr/core"
)

// lockName is the abstract socket name; TryAcquire prepends a NUL byte when
// binding, which is what puts it in Linux's abstract namespace instead of
// the filesystem.
const lockName = "brokkr-flash-lock"

// Lock holds an acquired single-instance lock. The kernel reclaims the
// abstract name automatically when fd is closed, so Release is the only
// cleanup required.
type Lock struct {
	fd int
}

// TryAcquire binds the abstract-namespace socket and returns a Lock, or an
// error wrapping core.ErrLock if another instance already holds it.
func TryAcquire() (*Lock, error) {
	fd, err := syscall.Socket(syscall.AF_UNIX, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", core.ErrLock, err)
	}

	addr := &syscall.SockaddrUnix{Name: "\x00" + lockName}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		if err == syscall.EADDRINUSE {
			return nil, fmt.Errorf("%w: another instance is already running", core.ErrLock)
		}
		return nil, fmt.Errorf("%w: bind: %v", core.ErrLock, err)
	}

	return &Lock{fd: fd}, nil
}

// Release drops the lock, freeing the abstract name for the next acquirer.
func (l *Lock) Release() error {
	if l == nil || l.fd < 0 {
		return nil
	}
	err := syscall.Close(l.fd)
	l.fd = -1
	return err
}
