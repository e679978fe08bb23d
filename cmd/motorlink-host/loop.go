package main

import (
	"github.com/amken3d/motorlink/framing"
	"github.com/amken3d/motorlink/transport"
)

// runLoop funnels every call into the endpoint engine, and every completion
// out of it, through a single goroutine. The engine itself is written as a
// cooperative, single-threaded state machine (see endpoint.EndpointProtocol);
// transport.StreamAdapter, by contrast, completes each transfer from its own
// per-call goroutine, so this CLI's read and write directions can complete
// concurrently with each other and with a REPL-issued Invoke. runLoop is the
// seam that serializes them before anything reaches the engine.
type runLoop struct {
	ops chan func()
}

func newRunLoop() *runLoop {
	return &runLoop{ops: make(chan func(), 16)}
}

func (l *runLoop) run() {
	for op := range l.ops {
		op()
	}
}

func (l *runLoop) post(f func()) {
	l.ops <- f
}

// call posts f onto the loop and blocks until it has run, returning f's result.
func call[T any](l *runLoop, f func() T) T {
	result := make(chan T, 1)
	l.post(func() { result <- f() })
	return <-result
}

// invokeOutcome bundles endpoint.Invoke's two return values so the call
// against its Invoke closure can return one.
type invokeOutcome struct {
	handle transport.TransferHandle
	err    error
}

type serializingSink struct {
	inner framing.PacketSink
	loop  *runLoop
}

func (s *serializingSink) StartWrite(payload []byte, c transport.Completer[transport.WriteResult]) (transport.TransferHandle, error) {
	return s.inner.StartWrite(payload, func(r transport.WriteResult) { s.loop.post(func() { c(r) }) })
}

func (s *serializingSink) CancelWrite(handle transport.TransferHandle) {
	s.inner.CancelWrite(handle)
}

type serializingSource struct {
	inner framing.PacketSource
	loop  *runLoop
}

func (s *serializingSource) StartRead(buf []byte, c transport.Completer[transport.ReadResult]) (transport.TransferHandle, error) {
	return s.inner.StartRead(buf, func(r transport.ReadResult) { s.loop.post(func() { c(r) }) })
}

func (s *serializingSource) CancelRead(handle transport.TransferHandle) {
	s.inner.CancelRead(handle)
}
