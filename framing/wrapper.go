package framing

import (
	"github.com/amken3d/motorlink/transport"
)

type wrapperState int

const (
	wrapperIdle wrapperState = iota
	wrapperSendingHeader
	wrapperSendingPayload
	wrapperSendingTrailer
	wrapperCancelling
)

// PacketWrapper adapts a byte sink into a packet sink by framing every
// write with a 3-byte header and 2-byte CRC-16 trailer, driving three
// sequential inner writes (header, payload, trailer) in strict order: each
// stage begins only after the previous stage's completer fires.
type PacketWrapper struct {
	sink transport.AsyncByteSink

	state       wrapperState
	headerBuf   [HeaderSize]byte
	trailerBuf  [TrailerSize]byte
	payload     []byte
	completer   transport.Completer[transport.WriteResult]
	innerHandle transport.TransferHandle
	handle      transport.TransferHandle
	nextHandle  uint64
}

// NewPacketWrapper returns a PacketWrapper writing framed packets to sink.
func NewPacketWrapper(sink transport.AsyncByteSink) *PacketWrapper {
	return &PacketWrapper{sink: sink}
}

// StartWrite frames payload and begins transmitting it. payload must remain
// valid until the completer fires.
func (w *PacketWrapper) StartWrite(payload []byte, completer transport.Completer[transport.WriteResult]) (transport.TransferHandle, error) {
	if w.state != wrapperIdle {
		return 0, ErrBusy
	}
	if len(payload) > MaxPayload {
		return 0, ErrPayloadTooLarge
	}

	w.headerBuf[0] = Sync
	w.headerBuf[1] = byte(len(payload)) & lenByteMask
	w.headerBuf[2] = crc8(w.headerBuf[:2])

	crc := crc16(payload)
	w.trailerBuf[0] = byte(crc >> 8)
	w.trailerBuf[1] = byte(crc)

	w.payload = payload
	w.completer = completer
	w.nextHandle++
	w.handle = transport.TransferHandle(w.nextHandle)
	w.state = wrapperSendingHeader
	w.innerHandle = w.sink.StartWrite(w.headerBuf[:], w.onHeaderDone)
	return w.handle, nil
}

// CancelWrite requests cancellation of the in-flight write identified by
// handle. Idempotent: a second call on the same (or a stale) handle is a
// no-op.
func (w *PacketWrapper) CancelWrite(handle transport.TransferHandle) {
	if w.state == wrapperIdle || w.state == wrapperCancelling || w.handle != handle {
		return
	}
	w.state = wrapperCancelling
	w.sink.CancelWrite(w.innerHandle)
}

func (w *PacketWrapper) onHeaderDone(r transport.WriteResult) {
	if w.state == wrapperCancelling {
		w.finish(transport.WriteResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != HeaderSize {
		w.finish(transport.WriteResult{Status: abortStatus(r.Status)})
		return
	}
	w.state = wrapperSendingPayload
	w.innerHandle = w.sink.StartWrite(w.payload, w.onPayloadDone)
}

func (w *PacketWrapper) onPayloadDone(r transport.WriteResult) {
	if w.state == wrapperCancelling {
		w.finish(transport.WriteResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != len(w.payload) {
		w.finish(transport.WriteResult{Status: abortStatus(r.Status)})
		return
	}
	w.state = wrapperSendingTrailer
	w.innerHandle = w.sink.StartWrite(w.trailerBuf[:], w.onTrailerDone)
}

func (w *PacketWrapper) onTrailerDone(r transport.WriteResult) {
	if w.state == wrapperCancelling {
		if r.Status == transport.Ok && r.N == TrailerSize {
			w.finish(transport.WriteResult{Status: transport.Ok, N: len(w.payload)})
			return
		}
		w.finish(transport.WriteResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != TrailerSize {
		w.finish(transport.WriteResult{Status: abortStatus(r.Status)})
		return
	}
	w.finish(transport.WriteResult{Status: transport.Ok, N: len(w.payload)})
}

func (w *PacketWrapper) finish(result transport.WriteResult) {
	completer := w.completer
	w.completer = nil
	w.payload = nil
	w.state = wrapperIdle
	if completer != nil {
		completer(result)
	}
}

func abortStatus(s transport.Status) transport.Status {
	if s == transport.Ok {
		// A short write with an otherwise-Ok status is treated as a
		// transport error: the underlying sink under-delivered.
		return transport.Error
	}
	return s
}
