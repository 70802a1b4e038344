package controller

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/provider"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// mockProvider connects any scanned link that is not refused.
type mockProvider struct {
	method    link.Method
	initErr   error
	initBlock bool
	scan      []link.Link

	mu        sync.Mutex
	refuse    map[string]bool
	links     map[string]link.Link
	inits     int
	connects  int
	cleanups  int
	handler   func(link.Event)
	strategy  link.Strategy
	allocated []link.Link
}

func newMockProvider(m link.Method, scan ...link.Link) *mockProvider {
	for i := range scan {
		scan[i].Method = m
	}
	return &mockProvider{method: m, scan: scan, refuse: map[string]bool{}, links: map[string]link.Link{}}
}

func (p *mockProvider) Method() link.Method { return p.method }

func (p *mockProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	p.inits++
	p.mu.Unlock()
	if p.initBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.initErr
}

func (p *mockProvider) Connect(_ context.Context, links []link.Link) ([]link.Link, error) {
	p.mu.Lock()
	p.connects++
	var errs []error
	for _, req := range links {
		i := slices.IndexFunc(p.scan, func(l link.Link) bool { return l.ID == req.ID })
		if i < 0 || p.refuse[req.ID] {
			errs = append(errs, link.EstablishError(req.ID, errors.New("unreachable")))
			continue
		}
		l := p.scan[i].Clone()
		l.Connected = true
		p.links[l.ID] = l
	}
	p.mu.Unlock()
	return p.ConnectedLinks(), errors.Join(errs...)
}

func (p *mockProvider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.links)
	return nil
}

func (p *mockProvider) Scan(context.Context) ([]link.Link, error) {
	return link.CloneAll(p.scan), nil
}

func (p *mockProvider) ConnectedLinks() []link.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]link.Link, 0, len(p.links))
	for _, l := range p.links {
		out = append(out, l.Clone())
	}
	link.SortByID(out)
	return out
}

func (p *mockProvider) CombinedSpeed() float64 { return link.TotalSpeed(p.ConnectedLinks()) }

func (p *mockProvider) RefreshMetrics(context.Context) error { return nil }

func (p *mockProvider) ApplyAllocation(links []link.Link) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated = link.CloneAll(links)
	return nil
}

func (p *mockProvider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups++
	clear(p.links)
	return nil
}

func (p *mockProvider) SetEventHandler(fn func(link.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *mockProvider) SetStrategy(s link.Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
}

// lose drops id and reports it lost, refusing reconnects until allowed.
func (p *mockProvider) lose(id string) {
	p.mu.Lock()
	l := p.links[id]
	delete(p.links, id)
	p.refuse[id] = true
	handler := p.handler
	p.mu.Unlock()
	l.Connected = false
	handler(link.Event{Kind: link.EventLost, Link: l, Err: &link.LinkError{LinkID: id, Err: link.ErrTunnelIO}})
}

// available reports id usable again, accepting reconnects when allowed.
func (p *mockProvider) available(id string, allowed bool) {
	p.mu.Lock()
	if allowed {
		delete(p.refuse, id)
	}
	i := slices.IndexFunc(p.scan, func(l link.Link) bool { return l.ID == id })
	l := p.scan[i].Clone()
	handler := p.handler
	p.mu.Unlock()
	handler(link.Event{Kind: link.EventAvailable, Link: l})
}

func (p *mockProvider) allow(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refuse, id)
}

func (p *mockProvider) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *mockProvider) initCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits
}

// mockFactory hands out one mockProvider per method and records the order.
type mockFactory struct {
	mu        sync.Mutex
	providers map[link.Method]*mockProvider
	built     []link.Method
}

func newMockFactory(providers ...*mockProvider) *mockFactory {
	f := &mockFactory{providers: map[link.Method]*mockProvider{}}
	for _, p := range providers {
		f.providers[p.method] = p
	}
	return f
}

func (f *mockFactory) New(m link.Method) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, m)
	p, ok := f.providers[m]
	if !ok {
		return nil, link.ErrCapabilityUnavailable
	}
	return p, nil
}

func (f *mockFactory) order() []link.Method {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.built)
}

type staticProbe link.Capabilities

func (p staticProbe) Detect(context.Context) link.Capabilities { return link.Capabilities(p) }

type staticPermission bool

func (p staticPermission) RequestCapturePermission(context.Context) <-chan bool {
	ch := make(chan bool, 1)
	ch <- bool(p)
	close(ch)
	return ch
}

// recordingListener counts notifications.
type recordingListener struct {
	mu       sync.Mutex
	statuses []bool
	updates  [][]link.Link
	speeds   []float64
}

func (r *recordingListener) OnStatusChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, connected)
}

func (r *recordingListener) OnLinksUpdated(links []link.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, links)
}

func (r *recordingListener) OnSpeedChanged(mbps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speeds = append(r.speeds, mbps)
}

func (r *recordingListener) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses) + len(r.updates) + len(r.speeds)
}

// funcListener is a listener value whose type is not comparable.
type funcListener struct {
	onStatus func(bool)
}

func (f funcListener) OnStatusChanged(connected bool) {
	if f.onStatus != nil {
		f.onStatus(connected)
	}
}

func (funcListener) OnLinksUpdated([]link.Link) {}

func (funcListener) OnSpeedChanged(float64) {}
