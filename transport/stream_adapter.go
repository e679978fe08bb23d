package transport

import (
	"io"
	"sync"
	"sync/atomic"
)

// StreamAdapter turns a blocking io.Reader/io.Writer pair into the
// AsyncByteSource/AsyncByteSink capability contracts. Each direction owns a
// dedicated goroutine per submission that performs the blocking call and
// resolves the completer when it returns; this is the Go-idiomatic version
// of the background readLoop + mutex pattern used to bridge a blocking
// serial port into a callback-driven protocol engine.
//
// Cancellation is cooperative: since the underlying Read/Write cannot be
// interrupted mid-call, CancelRead/CancelWrite only take effect once the
// in-flight call returns on its own (e.g. a serial port configured with a
// read timeout).
type StreamAdapter struct {
	source *streamSource
	sink   *streamSink
}

// NewStreamAdapter wraps rw and returns its AsyncByteSource and AsyncByteSink
// views.
func NewStreamAdapter(rw io.ReadWriter) (AsyncByteSource, AsyncByteSink) {
	return &streamSource{r: rw}, &streamSink{w: rw}
}

type pendingTransfer struct {
	handle    TransferHandle
	cancelled atomic.Bool
}

type streamSource struct {
	r          io.Reader
	mu         sync.Mutex
	nextHandle uint64
	active     *pendingTransfer
}

func (s *streamSource) StartRead(buf []byte, completer Completer[ReadResult]) TransferHandle {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		panic("transport: StartRead called with a transfer already in flight")
	}
	s.nextHandle++
	p := &pendingTransfer{handle: TransferHandle(s.nextHandle)}
	s.active = p
	s.mu.Unlock()

	go func() {
		n, err := s.r.Read(buf)
		status := classifyReadError(err)
		if p.cancelled.Load() && status != Ok {
			status = Cancelled
		}
		s.mu.Lock()
		if s.active == p {
			s.active = nil
		}
		s.mu.Unlock()
		completer(ReadResult{Status: status, N: n})
	}()
	return p.handle
}

func (s *streamSource) CancelRead(handle TransferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.handle == handle {
		s.active.cancelled.Store(true)
	}
}

func classifyReadError(err error) Status {
	switch err {
	case nil:
		return Ok
	case io.EOF, io.ErrClosedPipe:
		return Closed
	default:
		return Error
	}
}

type streamSink struct {
	w          io.Writer
	mu         sync.Mutex
	nextHandle uint64
	active     *pendingTransfer
}

func (s *streamSink) StartWrite(buf []byte, completer Completer[WriteResult]) TransferHandle {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		panic("transport: StartWrite called with a transfer already in flight")
	}
	s.nextHandle++
	p := &pendingTransfer{handle: TransferHandle(s.nextHandle)}
	s.active = p
	s.mu.Unlock()

	go func() {
		n, err := s.w.Write(buf)
		status := classifyWriteError(err, n, len(buf))
		if p.cancelled.Load() && status != Ok {
			status = Cancelled
		}
		s.mu.Lock()
		if s.active == p {
			s.active = nil
		}
		s.mu.Unlock()
		completer(WriteResult{Status: status, N: n})
	}()
	return p.handle
}

func (s *streamSink) CancelWrite(handle TransferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.handle == handle {
		s.active.cancelled.Store(true)
	}
}

func classifyWriteError(err error, n, want int) Status {
	switch {
	case err == io.ErrClosedPipe:
		return Closed
	case err != nil:
		return Error
	case n < want:
		return Error
	default:
		return Ok
	}
}
