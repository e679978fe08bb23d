package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amken3d/motorlink/transport"
)

// fakeSink is a framing.PacketSink whose completion is driven explicitly by
// the test, one write at a time.
type fakeSink struct {
	nextHandle  uint64
	handle      transport.TransferHandle
	completer   transport.Completer[transport.WriteResult]
	lastWritten []byte
}

func (s *fakeSink) StartWrite(b []byte, c transport.Completer[transport.WriteResult]) (transport.TransferHandle, error) {
	s.nextHandle++
	s.handle = transport.TransferHandle(s.nextHandle)
	s.completer = c
	s.lastWritten = append([]byte{}, b...)
	return s.handle, nil
}
func (s *fakeSink) CancelWrite(transport.TransferHandle) {}

func (s *fakeSink) complete(status transport.Status, n int) {
	c := s.completer
	s.completer = nil
	if c != nil {
		c(transport.WriteResult{Status: status, N: n})
	}
}

func (s *fakeSink) completeOk() { s.complete(transport.Ok, len(s.lastWritten)) }

// fakeSource is a framing.PacketSource whose completion is driven
// explicitly by the test.
type fakeSource struct {
	nextHandle uint64
	handle     transport.TransferHandle
	completer  transport.Completer[transport.ReadResult]
	buf        []byte
}

func (s *fakeSource) StartRead(buf []byte, c transport.Completer[transport.ReadResult]) (transport.TransferHandle, error) {
	s.nextHandle++
	s.handle = transport.TransferHandle(s.nextHandle)
	s.completer = c
	s.buf = buf
	return s.handle, nil
}
func (s *fakeSource) CancelRead(transport.TransferHandle) {}

func (s *fakeSource) deliver(status transport.Status, data []byte) {
	c := s.completer
	s.completer = nil
	n := copy(s.buf, data)
	if c != nil {
		c(transport.ReadResult{Status: status, N: n})
	}
}

func newStarted(t *testing.T) (*EndpointProtocol, *fakeSink, *fakeSource, *[]transport.Status) {
	t.Helper()
	sink := &fakeSink{}
	source := &fakeSource{}
	e := New(sink, source, MTU)
	stoppedWith := &[]transport.Status{}
	require.NoError(t, e.Start(func(s transport.Status) { *stoppedWith = append(*stoppedWith, s) }))
	return e, sink, source, stoppedWith
}

func TestInvokeBeforeStartReturnsError(t *testing.T) {
	e := New(&fakeSink{}, &fakeSource{}, MTU)
	_, err := e.Invoke(1, nil, nil, func(InvokeResult) {})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestDoubleStartReturnsError(t *testing.T) {
	e, _, _, _ := newStarted(t)
	require.ErrorIs(t, e.Start(func(transport.Status) {}), ErrAlreadyStarted)
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	e, sink, source, _ := newStarted(t)

	var result InvokeResult
	_, err := e.Invoke(1, nil, nil, func(r InvokeResult) { result = r })
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x01, 0x80}, sink.lastWritten)

	sink.completeOk()
	source.deliver(transport.Ok, []byte{0x00, 0x00})

	require.Equal(t, transport.Ok, result.Status)
	require.Equal(t, 0, result.N)
}

func TestRequestReplyExactBytes(t *testing.T) {
	e, sink, source, _ := newStarted(t)

	rx := make([]byte, 8)
	var result InvokeResult
	_, err := e.Invoke(1, []byte{0xDE, 0xAD}, rx, func(r InvokeResult) { result = r })
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x01, 0x80, 0xDE, 0xAD}, sink.lastWritten)

	sink.completeOk()
	source.deliver(transport.Ok, []byte{0x00, 0x00, 0xBE, 0xEF})

	require.Equal(t, transport.Ok, result.Status)
	require.Equal(t, 2, result.N)
	require.Equal(t, []byte{0xBE, 0xEF}, rx[:result.N])
}

func TestReplyReordering(t *testing.T) {
	e, sink, source, _ := newStarted(t)

	rx1, rx2 := make([]byte, 4), make([]byte, 4)
	var r1, r2 InvokeResult
	var r1Fired, r2Fired bool
	_, err := e.Invoke(1, []byte{0x01}, rx1, func(r InvokeResult) { r1, r1Fired = r, true })
	require.NoError(t, err)
	sink.completeOk() // op1 now awaiting ack at seqno 0

	_, err = e.Invoke(2, []byte{0x02}, rx2, func(r InvokeResult) { r2, r2Fired = r, true })
	require.NoError(t, err)
	sink.completeOk() // op2 now awaiting ack at seqno 1

	// Reply for the second request arrives first.
	source.deliver(transport.Ok, []byte{0x01, 0x00, 0xAA})
	require.True(t, r2Fired)
	require.Equal(t, transport.Ok, r2.Status)
	require.Equal(t, []byte{0xAA}, rx2[:r2.N])
	require.False(t, r1Fired)

	source.deliver(transport.Ok, []byte{0x00, 0x00, 0xBB})
	require.True(t, r1Fired)
	require.Equal(t, transport.Ok, r1.Status)
	require.Equal(t, []byte{0xBB}, rx1[:r1.N])
}

func TestBusyRejectsThirdInvoke(t *testing.T) {
	e, sink, _, _ := newStarted(t)

	_, err := e.Invoke(1, nil, nil, func(InvokeResult) {})
	require.NoError(t, err) // occupies the transmitting slot

	_, err = e.Invoke(2, nil, nil, func(InvokeResult) {})
	require.NoError(t, err) // occupies the pending slot

	_, err = e.Invoke(3, nil, nil, func(InvokeResult) {})
	require.ErrorIs(t, err, ErrBusy)

	sink.completeOk() // frees the transmitting slot, promotes pendingOp
	stats := e.Stats()
	require.Equal(t, uint64(1), stats.BusyRejections)
}

func TestPendingOpStartsAfterTransmittingCompletes(t *testing.T) {
	e, sink, _, _ := newStarted(t)

	var r1Fired, r2Fired bool
	_, err := e.Invoke(1, []byte{1}, nil, func(InvokeResult) { r1Fired = true })
	require.NoError(t, err)
	first := append([]byte{}, sink.lastWritten...)

	_, err = e.Invoke(2, []byte{2}, nil, func(InvokeResult) { r2Fired = true })
	require.NoError(t, err)
	require.Equal(t, first, sink.lastWritten) // second write not yet started

	sink.completeOk() // completes op1's TX, promotes op2
	require.Equal(t, []byte{0x01, 0x00, 0x02, 0x80, 0x02}, sink.lastWritten)

	sink.completeOk() // completes op2's TX
	require.False(t, r1Fired) // neither op resolves until its reply arrives
	require.False(t, r2Fired)
}

func TestCancelPendingFiresCancelled(t *testing.T) {
	e, _, _, _ := newStarted(t)

	_, err := e.Invoke(1, nil, nil, func(InvokeResult) {}) // transmitting
	require.NoError(t, err)

	var r2 InvokeResult
	h2, err := e.Invoke(2, nil, nil, func(r InvokeResult) { r2 = r })
	require.NoError(t, err)

	e.Cancel(h2)
	require.Equal(t, transport.Cancelled, r2.Status)

	e.Cancel(h2) // idempotent
	require.Equal(t, transport.Cancelled, r2.Status)
}

func TestCancelAwaitingAckFiresCancelled(t *testing.T) {
	e, sink, _, _ := newStarted(t)

	var result InvokeResult
	h, err := e.Invoke(1, nil, nil, func(r InvokeResult) { result = r })
	require.NoError(t, err)
	sink.completeOk() // now awaiting ack

	e.Cancel(h)
	require.Equal(t, transport.Cancelled, result.Status)
}

func TestCloseStopsEngine(t *testing.T) {
	e, sink, source, stoppedWith := newStarted(t)

	var r1, r2 InvokeResult
	_, err := e.Invoke(1, nil, nil, func(r InvokeResult) { r1 = r })
	require.NoError(t, err)
	sink.completeOk()

	_, err = e.Invoke(2, nil, nil, func(r InvokeResult) { r2 = r })
	require.NoError(t, err)

	source.deliver(transport.Closed, nil)

	require.Equal(t, transport.Closed, r1.Status)
	require.Equal(t, transport.Closed, r2.Status)
	require.Len(t, *stoppedWith, 1)
	require.Equal(t, transport.Closed, (*stoppedWith)[0])

	var r3 InvokeResult
	_, err = e.Invoke(3, nil, nil, func(r InvokeResult) { r3 = r })
	require.NoError(t, err)
	require.Equal(t, transport.Closed, r3.Status)
}

func TestSeqnoCollisionEvictsOlderWithError(t *testing.T) {
	e, sink, _, _ := newStarted(t)

	var r1 InvokeResult
	var r1Fired, r2Fired bool
	_, err := e.Invoke(1, nil, nil, func(r InvokeResult) { r1, r1Fired = r, true })
	require.NoError(t, err)
	sink.completeOk() // op1 parks in expectedAcks at seqno 0

	e.outboundSeqno = 0 // contrived wrap: next invoke reuses a seqno still awaiting reply
	_, err = e.Invoke(2, nil, nil, func(InvokeResult) { r2Fired = true })
	require.NoError(t, err)
	sink.completeOk() // op2 collides with op1 at seqno 0

	require.True(t, r1Fired)
	require.Equal(t, transport.Error, r1.Status)
	require.False(t, r2Fired) // op2 still awaiting its own reply
	require.Equal(t, uint64(1), e.Stats().SeqnoCollisions)
}

func TestBadCRCReplyIsNonFatalAndEngineKeepsReading(t *testing.T) {
	e, sink, source, stoppedWith := newStarted(t)

	var result InvokeResult
	var fired bool
	_, err := e.Invoke(1, nil, nil, func(r InvokeResult) { result, fired = r, true })
	require.NoError(t, err)
	sink.completeOk()

	source.deliver(transport.Error, nil) // simulates a frame the unwrapper rejected
	require.Empty(t, *stoppedWith)
	require.False(t, fired)

	source.deliver(transport.Ok, []byte{0x00, 0x00})
	require.True(t, fired)
	require.Equal(t, transport.Ok, result.Status)
	require.Equal(t, uint64(1), e.Stats().BadFrames)
}

func TestUnmatchedReplyIsDroppedAndCounted(t *testing.T) {
	e, sink, source, _ := newStarted(t)

	_, err := e.Invoke(1, nil, nil, func(InvokeResult) {})
	require.NoError(t, err)
	sink.completeOk()

	source.deliver(transport.Ok, []byte{0x99, 0x99}) // no operation awaits seqno 0x9999
	require.Equal(t, uint64(1), e.Stats().DroppedPackets)
}

func TestBufferTooSmallRejectedSynchronously(t *testing.T) {
	e, _, _, _ := newStarted(t)
	_, err := e.Invoke(1, make([]byte, MTU), nil, func(InvokeResult) {})
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestCustomMTUIsEnforced(t *testing.T) {
	e := New(&fakeSink{}, &fakeSource{}, 16)
	require.NoError(t, e.Start(func(transport.Status) {}))

	// Fits under the package-wide MTU but not under this engine's smaller one.
	_, err := e.Invoke(1, make([]byte, 16), nil, func(InvokeResult) {})
	require.ErrorIs(t, err, ErrBufferTooSmall)

	_, err = e.Invoke(1, make([]byte, 12), nil, func(InvokeResult) {})
	require.NoError(t, err)
}

func TestNewClampsOutOfRangeMTU(t *testing.T) {
	e := New(&fakeSink{}, &fakeSource{}, 0)
	require.Equal(t, MTU, e.mtu)

	e = New(&fakeSink{}, &fakeSource{}, MTU+100)
	require.Equal(t, MTU, e.mtu)
}
