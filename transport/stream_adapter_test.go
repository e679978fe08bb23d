package transport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipeRWC struct {
	r io.Reader
	w io.Writer
}

func (p pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestStreamAdapterRoundTrip(t *testing.T) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()

	aSrc, aSink := NewStreamAdapter(pipeRWC{r: ar, w: aw})
	bSrc, bSink := NewStreamAdapter(pipeRWC{r: br, w: bw})
	_ = aSrc

	done := make(chan ReadResult, 1)
	rbuf := make([]byte, 5)
	bSrc.StartRead(rbuf, func(r ReadResult) { done <- r })

	wbuf := []byte("hello")
	wdone := make(chan WriteResult, 1)
	aSink.StartWrite(wbuf, func(r WriteResult) { wdone <- r })

	select {
	case r := <-wdone:
		require.Equal(t, Ok, r.Status)
		require.Equal(t, 5, r.N)
	case <-time.After(time.Second):
		t.Fatal("write did not complete")
	}

	select {
	case r := <-done:
		require.Equal(t, Ok, r.Status)
		require.Equal(t, 5, r.N)
		require.Equal(t, "hello", string(rbuf[:r.N]))
	case <-time.After(time.Second):
		t.Fatal("read did not complete")
	}

	_ = bSink
}

func TestStreamAdapterClosedSourceReportsClosed(t *testing.T) {
	pr, pw := io.Pipe()
	src, _ := NewStreamAdapter(pipeRWC{r: pr, w: pw})

	done := make(chan ReadResult, 1)
	src.StartRead(make([]byte, 4), func(r ReadResult) { done <- r })

	require.NoError(t, pw.Close())

	select {
	case r := <-done:
		require.Equal(t, Closed, r.Status)
	case <-time.After(time.Second):
		t.Fatal("read did not complete after close")
	}
}

func TestStreamAdapterPanicsOnOverlappingRead(t *testing.T) {
	pr, pw := io.Pipe()
	src, _ := NewStreamAdapter(pipeRWC{r: pr, w: pw})
	defer pw.Close()

	src.StartRead(make([]byte, 4), func(ReadResult) {})
	require.Panics(t, func() {
		src.StartRead(make([]byte, 4), func(ReadResult) {})
	})
}
