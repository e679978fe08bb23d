// Package transport defines the capability contracts the rest of this
// module is built on: an AsyncByteSource/AsyncByteSink pair modeling a
// byte-oriented link that allows at most one outstanding transfer per
// direction, completed exactly once via a one-shot Completer.
package transport

import "fmt"

// Status is the terminal outcome of a submitted transfer.
type Status int

const (
	// Ok means the transfer completed and transferred the reported byte count.
	Ok Status = iota
	// Closed means the underlying link is gone; terminal for the owner.
	Closed
	// Cancelled means the transfer was cancelled before it completed successfully.
	Cancelled
	// Error means any other transport failure.
	Error
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case Closed:
		return "Closed"
	case Cancelled:
		return "Cancelled"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// TransferHandle is an opaque token identifying an in-flight submission,
// valid until its completer fires.
type TransferHandle uint64

// Completer is a one-shot continuation. Every holder of a Completer must
// invoke it exactly once, regardless of outcome.
type Completer[R any] func(R)

// ReadResult is delivered to a read completer. N is the number of bytes
// actually placed into the caller's buffer, starting at offset 0.
type ReadResult struct {
	Status Status
	N      int
}

// WriteResult is delivered to a write completer. N is the number of bytes
// actually consumed from the caller's buffer, starting at offset 0.
type WriteResult struct {
	Status Status
	N      int
}

// AsyncByteSource is a byte-oriented read capability. Implementations must
// allow at most one outstanding StartRead per instance.
type AsyncByteSource interface {
	// StartRead begins a read into buf. buf must remain valid until the
	// completer fires. Returns a handle usable with CancelRead.
	StartRead(buf []byte, completer Completer[ReadResult]) TransferHandle

	// CancelRead requests cancellation of a transfer previously started
	// with StartRead. Completion still occurs, with status Cancelled or
	// Ok if the transfer raced to completion. Must not be called twice
	// for the same handle, nor after the handle has completed.
	CancelRead(handle TransferHandle)
}

// AsyncByteSink is a byte-oriented write capability, the mirror of
// AsyncByteSource.
type AsyncByteSink interface {
	// StartWrite begins writing buf. buf must remain valid until the
	// completer fires. Returns a handle usable with CancelWrite.
	StartWrite(buf []byte, completer Completer[WriteResult]) TransferHandle

	// CancelWrite requests cancellation of a transfer previously started
	// with StartWrite.
	CancelWrite(handle TransferHandle)
}
