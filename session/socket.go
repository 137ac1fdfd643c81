// File: session/socket.go
// Package session raw socket helpers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errPeerClosed marks an EOF observed during a bridge-driven read.
var errPeerClosed = errors.New("session: peer closed connection")

// shutdownRead half-closes the read side of fd. Used both for the
// /json/version probe workaround and to interrupt a blocked session thread
// during external shutdown.
func shutdownRead(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RD)
}

// setNonblock flips the O_NONBLOCK flag on fd.
func setNonblock(fd int, on bool) error {
	return unix.SetNonblock(fd, on)
}

// closeFD releases the socket.
func closeFD(fd int) {
	_ = unix.Close(fd)
}
