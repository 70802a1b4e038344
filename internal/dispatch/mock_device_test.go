package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/plexsphere/bondd/internal/link"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

// ipv4Packet builds a minimal IPv4 packet with the given protocol and payload size.
func ipv4Packet(proto uint8, payload int) []byte {
	pkt := make([]byte, 20+payload)
	pkt[0] = 0x45
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	pkt[8] = 64
	pkt[9] = proto
	return pkt
}

// fakeDevice feeds packets from in to Read and records Writes.
type fakeDevice struct {
	in      chan []byte
	failErr error

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	written [][]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeDevice) Name() string { return "fake0" }

func (f *fakeDevice) Read(p []byte) (int, error) {
	select {
	case pkt, ok := <-f.in:
		if !ok {
			if f.failErr != nil {
				return 0, f.failErr
			}
			return 0, io.EOF
		}
		return copy(p, pkt), nil
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeDevice) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeDevice) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeDevice) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeConn records writes, optionally blocks them on gate, and serves
// inbound packets until closed.
type fakeConn struct {
	inbound chan []byte
	gate    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	writes   int
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return 0, os.ErrClosed
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes++
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case pkt := <-c.inbound:
		return copy(p, pkt), nil
	case <-c.closed:
		return 0, os.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeTransport hands out a fakeConn per link ID.
type fakeTransport struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	openErr map[string]error
	gated   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*fakeConn), openErr: make(map[string]error)}
}

func (f *fakeTransport) Ready() error { return nil }

func (f *fakeTransport) Open(_ context.Context, l link.Link) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[l.ID]; err != nil {
		return nil, err
	}
	c := newFakeConn()
	if f.gated {
		c.gate = make(chan struct{})
	}
	f.conns[l.ID] = c
	return c, nil
}

func (f *fakeTransport) conn(id string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

var errBrokenPipe = errors.New("broken pipe")
