//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

const ioctlTCGETS = 0x5401

// isTerminal reports whether fd is attached to a tty. Color output is
// disabled when logs go to a file or a pipe.
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL, fd, ioctlTCGETS,
		uintptr(unsafe.Pointer(&termios)), 0, 0, 0,
	)
	return errno == 0
}
