package framing

import (
	"github.com/rs/zerolog"

	"github.com/amken3d/motorlink/transport"
)

type unwrapperState int

const (
	unwrapperIdle unwrapperState = iota
	unwrapperReceivingHeader
	unwrapperReceivingPayload
	unwrapperReceivingTrailer
	unwrapperCancelling
)

// PacketUnwrapper adapts a byte source into a packet source by parsing the
// 3-byte header and 2-byte CRC-16 trailer this package's wire format
// defines. A bad sync byte or header CRC is not surfaced to the caller: the
// 3 header bytes are discarded and the read silently restarts, since the
// framer does not resynchronize by shifting a byte at a time. A bad payload CRC or an oversize frame IS surfaced, as Status
// Error, once the frame has been fully drained off the wire.
type PacketUnwrapper struct {
	source transport.AsyncByteSource
	logger zerolog.Logger

	state       unwrapperState
	headerBuf   [HeaderSize]byte
	trailerBuf  [TrailerSize]byte
	discardBuf  [255]byte
	buf         []byte
	payloadDst  []byte
	frameLen    int
	tooSmall    bool
	completer   transport.Completer[transport.ReadResult]
	innerHandle transport.TransferHandle
	handle      transport.TransferHandle
	nextHandle  uint64
}

// NewPacketUnwrapper returns a PacketUnwrapper reading framed packets from source.
func NewPacketUnwrapper(source transport.AsyncByteSource) *PacketUnwrapper {
	return &PacketUnwrapper{source: source, logger: zerolog.Nop()}
}

// SetLogger attaches a logger used to report discarded/rejected frames.
func (u *PacketUnwrapper) SetLogger(logger zerolog.Logger) {
	u.logger = logger
}

// StartRead begins receiving one packet into buf. buf must remain valid
// until the completer fires.
func (u *PacketUnwrapper) StartRead(buf []byte, completer transport.Completer[transport.ReadResult]) (transport.TransferHandle, error) {
	if u.state != unwrapperIdle {
		return 0, ErrBusy
	}
	u.buf = buf
	u.completer = completer
	u.nextHandle++
	u.handle = transport.TransferHandle(u.nextHandle)
	u.state = unwrapperReceivingHeader
	u.innerHandle = u.source.StartRead(u.headerBuf[:], u.onHeaderDone)
	return u.handle, nil
}

// CancelRead requests cancellation of the in-flight read identified by
// handle. Idempotent: a second call on the same (or a stale) handle is a
// no-op.
func (u *PacketUnwrapper) CancelRead(handle transport.TransferHandle) {
	if u.state == unwrapperIdle || u.state == unwrapperCancelling || u.handle != handle {
		return
	}
	u.state = unwrapperCancelling
	u.source.CancelRead(u.innerHandle)
}

func (u *PacketUnwrapper) onHeaderDone(r transport.ReadResult) {
	if u.state == unwrapperCancelling {
		u.finish(transport.ReadResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != HeaderSize {
		u.finish(transport.ReadResult{Status: abortReadStatus(r.Status)})
		return
	}
	if u.headerBuf[0] != Sync || crc8(u.headerBuf[:2]) != u.headerBuf[2] {
		u.logger.Debug().
			Uint8("byte0", u.headerBuf[0]).
			Msg("framing: discarding bad header, restarting read")
		u.innerHandle = u.source.StartRead(u.headerBuf[:], u.onHeaderDone)
		return
	}

	length := int(u.headerBuf[1])
	u.frameLen = length
	u.tooSmall = length > len(u.buf)
	if u.tooSmall {
		u.payloadDst = u.discardBuf[:length]
	} else {
		u.payloadDst = u.buf[:length]
	}
	u.state = unwrapperReceivingPayload
	u.innerHandle = u.source.StartRead(u.payloadDst, u.onPayloadDone)
}

func (u *PacketUnwrapper) onPayloadDone(r transport.ReadResult) {
	if u.state == unwrapperCancelling {
		u.finish(transport.ReadResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != u.frameLen {
		u.finish(transport.ReadResult{Status: abortReadStatus(r.Status)})
		return
	}
	u.state = unwrapperReceivingTrailer
	u.innerHandle = u.source.StartRead(u.trailerBuf[:], u.onTrailerDone)
}

func (u *PacketUnwrapper) onTrailerDone(r transport.ReadResult) {
	if u.state == unwrapperCancelling {
		u.finish(transport.ReadResult{Status: transport.Cancelled})
		return
	}
	if r.Status != transport.Ok || r.N != TrailerSize {
		u.finish(transport.ReadResult{Status: abortReadStatus(r.Status)})
		return
	}

	want := uint16(u.trailerBuf[0])<<8 | uint16(u.trailerBuf[1])
	got := crc16(u.payloadDst)
	if want != got {
		u.logger.Warn().
			Int("length", u.frameLen).
			Msg("framing: payload CRC mismatch, rejecting frame")
		u.finish(transport.ReadResult{Status: transport.Error})
		return
	}
	if u.tooSmall {
		u.logger.Warn().
			Int("length", u.frameLen).
			Int("bufsize", len(u.buf)).
			Msg("framing: frame larger than read buffer, rejecting frame")
		u.finish(transport.ReadResult{Status: transport.Error})
		return
	}
	u.finish(transport.ReadResult{Status: transport.Ok, N: u.frameLen})
}

func (u *PacketUnwrapper) finish(result transport.ReadResult) {
	completer := u.completer
	u.completer = nil
	u.buf = nil
	u.payloadDst = nil
	u.state = unwrapperIdle
	if completer != nil {
		completer(result)
	}
}

func abortReadStatus(s transport.Status) transport.Status {
	if s == transport.Ok {
		return transport.Error
	}
	return s
}
