// Package framing adapts an unreliable byte-oriented AsyncByteSource/Sink
// into a datagram-oriented PacketSource/PacketSink by adding a 3-byte
// header (sync byte, length, header CRC-8) and a 2-byte payload CRC-16
// trailer to every packet on the wire.
//
// Wire format:
//
//	[0]          SYNC       = 0xAA
//	[1]          LEN        = payload length, 0..MaxPayload, MSB reserved (0)
//	[2]          HDR_CRC8   = CRC-8 over bytes [0..1]
//	[3..3+LEN-1] payload
//	[3+LEN..+1]  CRC16 over payload, most-significant byte first
package framing

import (
	"errors"

	"github.com/amken3d/motorlink/transport"
)

const (
	// Sync is the frame synchronization byte.
	Sync byte = 0xAA

	// MaxPayload is the largest payload a frame can carry; bit 7 of the
	// length byte is reserved and must be zero.
	MaxPayload = 127

	// HeaderSize is the number of header bytes: sync, length, header CRC.
	HeaderSize = 3
	// TrailerSize is the number of trailer bytes: CRC16 high, CRC16 low.
	TrailerSize = 2

	lenByteMask = 0x7F
)

var (
	// ErrPayloadTooLarge is returned synchronously by StartWrite when the
	// payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("framing: payload exceeds max frame size")
	// ErrBusy is returned synchronously when a write or read is already
	// in flight on this framer instance.
	ErrBusy = errors.New("framing: transfer already in progress")
	// ErrBufferTooSmall names the condition of a frame whose advertised
	// length exceeds the caller's read buffer. PacketUnwrapper does not
	// return this value: its read completer reports such a frame as Status
	// Error.
	ErrBufferTooSmall = errors.New("framing: read buffer too small for frame")
	// ErrBadFrame names the condition of a frame whose sync byte, header
	// CRC, or payload CRC does not match. PacketUnwrapper does not return
	// this value: a bad sync byte or header CRC is discarded silently, and
	// a bad payload CRC is reported to the read completer as Status Error.
	ErrBadFrame = errors.New("framing: bad frame")
)

// PacketSink is the datagram-oriented counterpart of transport.AsyncByteSink:
// one StartWrite call transfers exactly one packet.
type PacketSink interface {
	StartWrite(payload []byte, completer transport.Completer[transport.WriteResult]) (transport.TransferHandle, error)
	CancelWrite(handle transport.TransferHandle)
}

// PacketSource is the datagram-oriented counterpart of transport.AsyncByteSource:
// one StartRead call transfers exactly one packet; partial-packet reads are
// not observable.
type PacketSource interface {
	StartRead(buf []byte, completer transport.Completer[transport.ReadResult]) (transport.TransferHandle, error)
	CancelRead(handle transport.TransferHandle)
}
