package ctlapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBonding struct {
	mu         sync.Mutex
	snap       controller.Snapshot
	scan       []link.Link
	connectOK  bool
	connected  []link.Link
	method     link.Method
	methodOK   bool
	strategy   link.Strategy
	disconnect int
}

func (m *mockBonding) Status() controller.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockBonding) Scan(context.Context) []link.Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan
}

func (m *mockBonding) Connect(_ context.Context, links []link.Link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = links
	if m.connectOK {
		m.snap.State = controller.StateActive
		m.snap.Links = links
		m.snap.Connected = true
	}
	return m.connectOK
}

func (m *mockBonding) Disconnect(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnect++
	was := m.snap.Connected
	m.snap.Connected = false
	m.snap.Links = nil
	m.snap.State = controller.StateDisconnected
	return was
}

func (m *mockBonding) SwitchMethod(_ context.Context, meth link.Method) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.method = meth
	if m.methodOK {
		m.snap.Method = meth
	}
	return m.methodOK
}

func (m *mockBonding) SetStrategy(_ context.Context, s link.Strategy) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
	m.snap.Strategy = s
	return true
}

// seen returns what the handler last passed in.
func (m *mockBonding) seen() (connected []link.Link, method link.Method, strategy link.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, m.method, m.strategy
}

type staticCounters struct{ captured, dropped, malformed uint64 }

func (s staticCounters) Counters() (uint64, uint64, uint64) {
	return s.captured, s.dropped, s.malformed
}

type mockHistory struct {
	mu        sync.Mutex
	points    []metrics.Point
	lastGroup string
	lastN     int
}

func (h *mockHistory) Recent(group string, n int) []metrics.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastGroup, h.lastN = group, n
	return h.points
}

type staticCred struct {
	cred *PeerCredentials
	err  error
}

func (s staticCred) GetPeerCredentials(*http.Request) (*PeerCredentials, error) {
	return s.cred, s.err
}

type groupSet map[uint32]bool

func (g groupSet) IsInGroup(uid, _ uint32, _ string) bool { return g[uid] }

func (h *mockHistory) last() (string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastGroup, h.lastN
}
