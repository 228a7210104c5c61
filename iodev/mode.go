// Package iodev provides byte-stream devices over OS descriptors with
// uniform synchronous and asynchronous read/write semantics, monitored
// through the reactor.
package iodev

import "golang.org/x/sys/unix"

// OpenMode is the bit-set controlling how a device is opened.
type OpenMode uint32

const (
	// Sync is the default blocking mode.
	Sync OpenMode = 0

	Read OpenMode = 1 << iota
	Write
	// Async puts the descriptor into non-blocking mode; required for
	// BeginRead/BeginWrite.
	Async
	// AtEnd positions the file pointer at the end after opening.
	AtEnd
	Append
	Trunc
	Create
	// Inherit leaves the descriptor inheritable across exec; the
	// default sets close-on-exec.
	Inherit
)

// ReadWrite is the common open mode for bidirectional devices.
const ReadWrite = Read | Write

func (m OpenMode) openFlags() int {
	var flags int
	switch {
	case m&Read != 0 && m&Write != 0:
		flags = unix.O_RDWR
	case m&Write != 0:
		flags = unix.O_WRONLY
	default:
		flags = unix.O_RDONLY
	}
	if m&Async != 0 {
		flags |= unix.O_NONBLOCK
	}
	if m&Append != 0 {
		flags |= unix.O_APPEND
	}
	if m&Trunc != 0 {
		flags |= unix.O_TRUNC
	}
	if m&Create != 0 {
		flags |= unix.O_CREAT
	}
	flags |= unix.O_NOCTTY
	return flags
}
