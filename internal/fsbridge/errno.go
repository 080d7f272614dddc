package fsbridge

import (
	"errors"
	"syscall"

	"torrentstream/streamfs/internal/domain"
)

// ErrPanic wraps a value recovered inside a hook.
var ErrPanic = errors.New("fs hook panicked")

// Errno maps a hook error to the errno the kernel sees. nil is 0.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, domain.ErrBusy):
		return syscall.EBUSY
	default:
		return syscall.EIO
	}
}

func errnoName(e syscall.Errno) string {
	switch e {
	case 0:
		return "OK"
	case syscall.ENOENT:
		return "ENOENT"
	case syscall.EBUSY:
		return "EBUSY"
	default:
		return "EIO"
	}
}
