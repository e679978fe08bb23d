// Package packetio adapts a transport that already delivers whole,
// pre-framed datagrams (e.g. USB bulk transfers) directly to the
// framing.PacketSink/PacketSource contracts, bypassing the byte-stream
// framer entirely.
package packetio

import (
	"github.com/amken3d/motorlink/transport"
)

// IdentitySink is a framing.PacketSink that forwards each write unframed
// to an underlying transport.AsyncByteSink. Use it when the link itself
// already preserves packet boundaries.
type IdentitySink struct {
	sink transport.AsyncByteSink
}

// NewIdentitySink wraps sink so it can be used wherever a framing.PacketSink
// is expected, without adding a header or trailer.
func NewIdentitySink(sink transport.AsyncByteSink) *IdentitySink {
	return &IdentitySink{sink: sink}
}

func (s *IdentitySink) StartWrite(payload []byte, completer transport.Completer[transport.WriteResult]) (transport.TransferHandle, error) {
	return s.sink.StartWrite(payload, completer), nil
}

func (s *IdentitySink) CancelWrite(handle transport.TransferHandle) {
	s.sink.CancelWrite(handle)
}

// IdentitySource is a framing.PacketSource that forwards each read unframed
// from an underlying transport.AsyncByteSource.
type IdentitySource struct {
	source transport.AsyncByteSource
}

// NewIdentitySource wraps source so it can be used wherever a
// framing.PacketSource is expected.
func NewIdentitySource(source transport.AsyncByteSource) *IdentitySource {
	return &IdentitySource{source: source}
}

func (s *IdentitySource) StartRead(buf []byte, completer transport.Completer[transport.ReadResult]) (transport.TransferHandle, error) {
	return s.source.StartRead(buf, completer), nil
}

func (s *IdentitySource) CancelRead(handle transport.TransferHandle) {
	s.source.CancelRead(handle)
}
