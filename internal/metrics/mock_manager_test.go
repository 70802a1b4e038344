package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// mockCollector records calls and returns configured results.
type mockCollector struct {
	mu     sync.Mutex
	calls  int
	points []Point
	err    error
}

func (m *mockCollector) Collect(_ context.Context) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.points, nil
}

func (m *mockCollector) set(points []Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = points
}

func (m *mockCollector) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockRecorder records Record and Forget calls.
type mockRecorder struct {
	mu      sync.Mutex
	batches [][]Point
	forgot  []string
}

func (m *mockRecorder) Record(points []Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, points)
}

func (m *mockRecorder) Forget(linkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgot = append(m.forgot, linkID)
}

func (m *mockRecorder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockRecorder) batch(i int) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[i]
}

func (m *mockRecorder) forgotten() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.forgot...)
}

// blockingCollector waits for its context to end.
type blockingCollector struct{}

func (blockingCollector) Collect(ctx context.Context) ([]Point, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// panicCollector is a Collector that panics on every Collect call.
type panicCollector struct {
	msg string
}

func (p *panicCollector) Collect(_ context.Context) ([]Point, error) {
	panic(p.msg)
}

// mockPinger returns a fixed RTT per interface.
type mockPinger struct {
	mu      sync.Mutex
	results map[string]time.Duration
	errs    map[string]error
	calls   []string
}

func (m *mockPinger) Ping(ctx context.Context, iface string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, iface)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.errs[iface]; err != nil {
		return 0, err
	}
	return m.results[iface].Nanoseconds(), nil
}

// mockLister returns a fixed link set.
type mockLister struct {
	links []link.Link
}

func (m *mockLister) ConnectedLinks() []link.Link {
	return link.CloneAll(m.links)
}

// mockTunnelStatsReader is a test double for TunnelStatsReader.
type mockTunnelStatsReader struct {
	stats []TunnelStats
	err   error
}

func (m *mockTunnelStatsReader) ReadTunnelStats(context.Context) ([]TunnelStats, error) {
	return m.stats, m.err
}

// waitFor polls cond until it holds or two seconds elapse.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
