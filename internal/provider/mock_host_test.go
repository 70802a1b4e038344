package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"

	"github.com/plexsphere/bondd/internal/dispatch"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/netif"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

func uplink(name string, kind link.Kind, gw string) netif.Interface {
	return netif.Interface{
		Name:      name,
		Kind:      kind,
		Up:        true,
		Carrier:   true,
		Gateway:   net.ParseIP(gw),
		SpeedMbps: 100,
	}
}

// mockHost serves a mutable interface list.
type mockHost struct {
	mu      sync.Mutex
	ifaces  []netif.Interface
	err     error
	upped   []string
	onSetUp func(i *netif.Interface)
}

func (m *mockHost) Interfaces(context.Context) ([]netif.Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.ifaces), nil
}

func (m *mockHost) SetUp(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upped = append(m.upped, name)
	for i := range m.ifaces {
		if m.ifaces[i].Name == name && m.onSetUp != nil {
			m.onSetUp(&m.ifaces[i])
		}
	}
	return nil
}

func (m *mockHost) set(ifaces ...netif.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ifaces = ifaces
}

// mockRouter records the multipath route and rules.
type mockRouter struct {
	mu        sync.Mutex
	hops      []netif.NextHop
	installed bool
	rules     int
	setErr    error
	ruleErr   error
}

func (m *mockRouter) SetMultipath(_ int, hops []netif.NextHop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.hops = slices.Clone(hops)
	m.installed = true
	return nil
}

func (m *mockRouter) ClearMultipath(int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hops = nil
	m.installed = false
	return nil
}

func (m *mockRouter) AddRule(int, int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ruleErr != nil {
		return m.ruleErr
	}
	m.rules++
	return nil
}

func (m *mockRouter) DelRule(int, int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules--
	return nil
}

func (m *mockRouter) weights() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.hops))
	for _, h := range m.hops {
		out[h.Interface] = h.Weight
	}
	return out
}

// mockPinger returns a fixed RTT per interface.
type mockPinger struct {
	rtt map[string]int64
	err error
}

func (m *mockPinger) Ping(_ context.Context, iface string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	rtt, ok := m.rtt[iface]
	if !ok {
		return 0, errors.New("unreachable")
	}
	return rtt, nil
}

// mockDialer hands out pipe connections or fails for listed interfaces.
type mockDialer struct {
	mu    sync.Mutex
	fail  map[string]bool
	dials []string
}

func (m *mockDialer) DialContext(_ context.Context, iface, _, address string) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials = append(m.dials, iface+"->"+address)
	if m.fail[iface] {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

// eventRecorder collects link events.
type eventRecorder struct {
	mu     sync.Mutex
	events []link.Event
}

func (r *eventRecorder) handle(ev link.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) list() []link.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// fakeDevice is a capture device that blocks reads until closed or failed.
type fakeDevice struct {
	fail      chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{fail: make(chan error, 1), closed: make(chan struct{})}
}

func (f *fakeDevice) Name() string { return "bondtest0" }

func (f *fakeDevice) Read([]byte) (int, error) {
	select {
	case err := <-f.fail:
		return 0, err
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeDevice) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeDevice) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeCaptureRouter records capture routing installation.
type fakeCaptureRouter struct {
	mu         sync.Mutex
	device     string
	installed  bool
	installErr error
	removals   int
}

func (r *fakeCaptureRouter) Install(device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installErr != nil {
		return r.installErr
	}
	r.device = device
	r.installed = true
	return nil
}

func (r *fakeCaptureRouter) Remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installed = false
	r.removals++
	return nil
}

func (r *fakeCaptureRouter) removeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removals
}

func (r *fakeCaptureRouter) isInstalled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed
}

// blockingConn is a tunnel transport whose reads block until closed.
type blockingConn struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *blockingConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *blockingConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *blockingConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeTransport opens blocking connections, failing for listed links.
type fakeTransport struct {
	fail     map[string]bool
	notReady error
}

func (t *fakeTransport) Ready() error { return t.notReady }

func (t *fakeTransport) Open(_ context.Context, l link.Link) (io.ReadWriteCloser, error) {
	if t.fail[l.ID] {
		return nil, errors.New("relay unreachable")
	}
	return &blockingConn{closed: make(chan struct{})}, nil
}

var _ dispatch.Transport = (*fakeTransport)(nil)
