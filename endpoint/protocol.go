// Package endpoint implements the request/response engine that
// multiplexes endpoint-addressed operations over a packet link, matching
// replies to in-flight requests by sequence number.
package endpoint

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/amken3d/motorlink/framing"
	"github.com/amken3d/motorlink/transport"
)

// ProtocolVersion is exchanged out of band, via a well-known endpoint, by
// callers above this package; this package only defines the constant.
const ProtocolVersion = 1

const (
	// MTU is the hard ceiling on any EndpointProtocol's configured mtu; it
	// is framing's own payload limit and cannot be exceeded regardless of
	// what New is asked for.
	MTU = framing.MaxPayload

	invokeHeaderSize = 4 // seqno (2) + endpoint id with ack-flag (2)
	replyHeaderSize  = 2 // seqno (2)

	endpointAckFlag = 0x8000
	endpointIDMask  = 0x7FFF
)

var (
	// ErrBufferTooSmall is returned synchronously when the request payload
	// would not fit the wire MTU.
	ErrBufferTooSmall = errors.New("endpoint: payload exceeds MTU")
	// ErrBusy is returned synchronously when both the transmitting and
	// pending slots are already occupied.
	ErrBusy = errors.New("endpoint: no free slot for invoke")
	// ErrAlreadyStarted is returned by Start when the engine is already
	// running.
	ErrAlreadyStarted = errors.New("endpoint: already started")
	// ErrNotStarted is returned by Invoke when Start has not been called.
	ErrNotStarted = errors.New("endpoint: not started")
)

// InvokeResult is delivered to an Invoke completer.
type InvokeResult struct {
	Status transport.Status
	// N is the number of reply bytes copied into the caller's rx buffer.
	N int
}

// EndpointStats is a point-in-time snapshot of engine counters, exposed for
// diagnostics.
type EndpointStats struct {
	Invokes         uint64
	BusyRejections  uint64
	DroppedPackets  uint64
	BadFrames       uint64
	SeqnoCollisions uint64
}

type opLocation int

const (
	locNone opLocation = iota
	locPending
	locTransmitting
	locAwaitingAck
)

type endpointOperation struct {
	handle     transport.TransferHandle
	seqno      uint16
	endpointID uint16
	tx         []byte
	rx         []byte
	completer  transport.Completer[InvokeResult]
	location   opLocation
	cancelled  bool
}

// EndpointProtocol multiplexes Invoke calls over a single PacketSink/
// PacketSource pair, matching replies to requests by sequence number.
//
// EndpointProtocol is not safe for concurrent use by multiple goroutines;
// like the rest of this module it assumes all calls and all completer
// invocations happen serially on one owning goroutine (its "event loop").
type EndpointProtocol struct {
	sink   framing.PacketSink
	source framing.PacketSource
	logger zerolog.Logger

	started bool
	stopped bool

	outboundSeqno uint16
	txBusy        bool

	mtu int

	transmittingOp *endpointOperation
	pendingOp      *endpointOperation
	expectedAcks   map[uint16]*endpointOperation
	handles        map[transport.TransferHandle]*endpointOperation

	onStopped transport.Completer[transport.Status]

	nextHandle uint64
	txBuf      [128]byte
	rxBuf      [128]byte

	stats EndpointStats
}

// New returns an EndpointProtocol that will read and write packets through
// sink/source, rejecting any Invoke whose request would not fit within mtu
// bytes on the wire. mtu is clamped to (0, MTU]; a caller that passes 0 or a
// value above MTU gets the package-wide ceiling. Call Start before issuing
// any Invoke.
func New(sink framing.PacketSink, source framing.PacketSource, mtu int) *EndpointProtocol {
	if mtu <= 0 || mtu > MTU {
		mtu = MTU
	}
	return &EndpointProtocol{
		sink:         sink,
		source:       source,
		mtu:          mtu,
		logger:       zerolog.Nop(),
		expectedAcks: make(map[uint16]*endpointOperation),
		handles:      make(map[transport.TransferHandle]*endpointOperation),
	}
}

// SetLogger attaches a logger used to report dropped/unmatched packets.
func (e *EndpointProtocol) SetLogger(logger zerolog.Logger) {
	e.logger = logger
}

// Start begins the continuous RX pump. onStopped fires exactly once when
// the engine terminates (link closed, or every outstanding operation
// otherwise force-completed). Start is idempotent only if the engine was
// previously stopped.
func (e *EndpointProtocol) Start(onStopped transport.Completer[transport.Status]) error {
	if e.started && !e.stopped {
		return ErrAlreadyStarted
	}
	e.started = true
	e.stopped = false
	e.onStopped = onStopped
	e.armRead()
	return nil
}

// Stats returns a snapshot of the engine's diagnostic counters.
func (e *EndpointProtocol) Stats() EndpointStats {
	return e.stats
}

// Invoke sends tx to endpointID and arranges for the reply payload to be
// copied into rx (clamped to len(rx)) when it arrives. The completer fires
// exactly once.
func (e *EndpointProtocol) Invoke(endpointID uint16, tx, rx []byte, completer transport.Completer[InvokeResult]) (transport.TransferHandle, error) {
	if !e.started {
		return 0, ErrNotStarted
	}
	if len(tx)+invokeHeaderSize > e.mtu {
		return 0, ErrBufferTooSmall
	}
	if e.stopped {
		completer(InvokeResult{Status: transport.Closed})
		return 0, nil
	}

	seqno := e.outboundSeqno
	e.outboundSeqno++

	e.nextHandle++
	op := &endpointOperation{
		handle:     transport.TransferHandle(e.nextHandle),
		seqno:      seqno,
		endpointID: endpointID & endpointIDMask,
		tx:         tx,
		rx:         rx,
		completer:  completer,
	}

	if !e.txBusy {
		e.startTransmitting(op)
	} else if e.pendingOp == nil {
		op.location = locPending
		e.pendingOp = op
	} else {
		e.stats.BusyRejections++
		return 0, ErrBusy
	}

	e.handles[op.handle] = op
	e.stats.Invokes++
	return op.handle, nil
}

// Cancel requests cancellation of the operation identified by handle.
// Idempotent and best-effort: the completer fires exactly once, with
// status Cancelled, unless it had already committed a different outcome.
func (e *EndpointProtocol) Cancel(handle transport.TransferHandle) {
	op, ok := e.handles[handle]
	if !ok {
		return
	}
	delete(e.handles, handle)

	switch op.location {
	case locPending:
		if e.pendingOp == op {
			e.pendingOp = nil
		}
		e.fire(op, InvokeResult{Status: transport.Cancelled})
	case locTransmitting:
		// The write may already be committed to the wire; only the
		// expectation of a reply is cancelled.
		op.cancelled = true
		e.fire(op, InvokeResult{Status: transport.Cancelled})
	case locAwaitingAck:
		delete(e.expectedAcks, op.seqno)
		e.fire(op, InvokeResult{Status: transport.Cancelled})
	}
}

func (e *EndpointProtocol) fire(op *endpointOperation, result InvokeResult) {
	if op.completer == nil {
		return
	}
	c := op.completer
	op.completer = nil
	c(result)
}

func (e *EndpointProtocol) startTransmitting(op *endpointOperation) {
	e.txBusy = true
	op.location = locTransmitting
	e.transmittingOp = op

	e.txBuf[0] = byte(op.seqno)
	e.txBuf[1] = byte(op.seqno >> 8)
	e.txBuf[2] = byte(op.endpointID)
	e.txBuf[3] = byte(op.endpointID>>8) | 0x80
	n := copy(e.txBuf[invokeHeaderSize:], op.tx)

	if _, err := e.sink.StartWrite(e.txBuf[:invokeHeaderSize+n], e.onTxDone); err != nil {
		e.txBusy = false
		e.transmittingOp = nil
		delete(e.handles, op.handle)
		e.fire(op, InvokeResult{Status: transport.Error})
		e.promotePending()
	}
}

func (e *EndpointProtocol) onTxDone(r transport.WriteResult) {
	op := e.transmittingOp
	e.transmittingOp = nil
	e.txBusy = false
	if op == nil {
		return
	}

	switch r.Status {
	case transport.Ok:
		if op.cancelled {
			delete(e.handles, op.handle)
		} else {
			op.location = locAwaitingAck
			if existing, collide := e.expectedAcks[op.seqno]; collide {
				delete(e.expectedAcks, op.seqno)
				delete(e.handles, existing.handle)
				e.stats.SeqnoCollisions++
				e.fire(existing, InvokeResult{Status: transport.Error})
			}
			e.expectedAcks[op.seqno] = op
		}
	case transport.Closed:
		if !op.cancelled {
			delete(e.handles, op.handle)
			e.fire(op, InvokeResult{Status: transport.Closed})
		}
		e.promotePending()
		e.stopAll(transport.Closed)
		return
	default:
		if !op.cancelled {
			delete(e.handles, op.handle)
			e.fire(op, InvokeResult{Status: r.Status})
		}
	}

	e.promotePending()
}

func (e *EndpointProtocol) promotePending() {
	if e.pendingOp == nil {
		return
	}
	next := e.pendingOp
	e.pendingOp = nil
	e.startTransmitting(next)
}

func (e *EndpointProtocol) armRead() {
	if _, err := e.source.StartRead(e.rxBuf[:], e.onRxDone); err != nil {
		e.stopAll(transport.Error)
	}
}

func (e *EndpointProtocol) onRxDone(r transport.ReadResult) {
	if e.stopped {
		return
	}
	switch r.Status {
	case transport.Closed:
		e.stopAll(transport.Closed)
	case transport.Cancelled, transport.Error:
		// Frame-level errors (bad CRC, oversize) are non-fatal: drop the
		// packet and keep reading.
		if r.Status == transport.Error {
			e.stats.BadFrames++
		}
		e.armRead()
	case transport.Ok:
		e.dispatchReply(r.N)
		e.armRead()
	}
}

func (e *EndpointProtocol) dispatchReply(n int) {
	if n < replyHeaderSize {
		e.stats.BadFrames++
		return
	}
	seqno := uint16(e.rxBuf[0]) | uint16(e.rxBuf[1])<<8
	op, ok := e.expectedAcks[seqno]
	if !ok {
		e.stats.DroppedPackets++
		e.logger.Debug().Uint16("seqno", seqno).Msg("endpoint: dropped unmatched reply")
		return
	}
	delete(e.expectedAcks, seqno)
	delete(e.handles, op.handle)

	copied := copy(op.rx, e.rxBuf[replyHeaderSize:n])
	e.fire(op, InvokeResult{Status: transport.Ok, N: copied})
}

func (e *EndpointProtocol) stopAll(status transport.Status) {
	if e.stopped {
		return
	}
	e.stopped = true

	if e.pendingOp != nil {
		op := e.pendingOp
		e.pendingOp = nil
		delete(e.handles, op.handle)
		e.fire(op, InvokeResult{Status: status})
	}
	if e.transmittingOp != nil {
		op := e.transmittingOp
		e.transmittingOp = nil
		if !op.cancelled {
			delete(e.handles, op.handle)
			e.fire(op, InvokeResult{Status: status})
		}
	}
	for seqno, op := range e.expectedAcks {
		delete(e.expectedAcks, seqno)
		delete(e.handles, op.handle)
		e.fire(op, InvokeResult{Status: status})
	}

	if e.onStopped != nil {
		cb := e.onStopped
		e.onStopped = nil
		cb(status)
	}
}
