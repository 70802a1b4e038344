package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/plexsphere/bondd/internal/allocation"
	"github.com/plexsphere/bondd/internal/link"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testDispatcher(t *testing.T, tr *fakeTransport, queueSize int) (*Dispatcher, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	d := New(Config{QueueSize: queueSize, StopTimeout: time.Second}, dev, tr, discardLogger())
	t.Cleanup(func() { _ = d.Close() })
	return d, dev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// eventRecorder collects link events.
type eventRecorder struct {
	mu     sync.Mutex
	events []link.Event
}

func (r *eventRecorder) handle(e link.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []link.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]link.Event(nil), r.events...)
}

func TestDispatcher_DistributesByAllocation(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 2000)
	d.SetStrategy(link.StrategySpeedWeighted)

	ctx := context.Background()
	if err := d.AddLink(ctx, link.Link{ID: "a", SpeedMbps: 80}); err != nil {
		t.Fatal(err)
	}
	if err := d.AddLink(ctx, link.Link{ID: "b", SpeedMbps: 20}); err != nil {
		t.Fatal(err)
	}

	links := d.ConnectedLinks()
	if len(links) != 2 || !links[0].Connected {
		t.Fatalf("ConnectedLinks() = %+v", links)
	}
	if sum := allocation.Sum(links); sum < 99.99 || sum > 100.01 {
		t.Errorf("allocation sum = %v, want 100", sum)
	}

	pkt := ipv4Packet(ProtoUDP, 32)
	for i := 0; i < 1000; i++ {
		d.Dispatch(pkt)
	}

	a, b := tr.conn("a"), tr.conn("b")
	waitFor(t, "all packets written", func() bool { return a.writeCount()+b.writeCount() == 1000 })
	if a.writeCount() != 800 || b.writeCount() != 200 {
		t.Errorf("writes = a:%d b:%d, want 800/200", a.writeCount(), b.writeCount())
	}
	if d.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", d.Dropped())
	}
}

func TestDispatcher_FullQueueDropsNewest(t *testing.T) {
	tr := newFakeTransport()
	tr.gated = true
	d, _ := testDispatcher(t, tr, 2)

	if err := d.AddLink(context.Background(), link.Link{ID: "a", SpeedMbps: 10}); err != nil {
		t.Fatal(err)
	}

	pkt := ipv4Packet(ProtoTCP, 0)
	for i := 0; i < 10; i++ {
		d.Dispatch(pkt)
	}

	// At most one packet is in flight inside the blocked Write, two are queued.
	if got := d.Dropped(); got < 7 {
		t.Errorf("Dropped() = %d, want >= 7", got)
	}
	stats := d.Stats()
	if len(stats) != 1 || stats[0].Dropped != d.Dropped() {
		t.Errorf("per-link dropped = %+v, global = %d", stats, d.Dropped())
	}
	if stats[0].InstanceID == "" {
		t.Error("tunnel instance ID not set")
	}
}

func TestDispatcher_TunnelFailureIsLinkLoss(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 64)
	rec := &eventRecorder{}
	d.SetEventHandler(rec.handle)

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := d.AddLink(ctx, link.Link{ID: id, SpeedMbps: 10}); err != nil {
			t.Fatal(err)
		}
	}

	tr.conn("a").setWriteErr(errBrokenPipe)
	pkt := ipv4Packet(ProtoUDP, 0)
	waitFor(t, "lost event", func() bool {
		d.Dispatch(pkt)
		return len(rec.snapshot()) > 0
	})

	ev := rec.snapshot()[0]
	if ev.Kind != link.EventLost || ev.Link.ID != "a" || ev.Link.Connected {
		t.Errorf("event = %+v, want lost a", ev)
	}
	if !errors.Is(ev.Err, link.ErrTunnelIO) || !errors.Is(ev.Err, errBrokenPipe) {
		t.Errorf("event error = %v, want ErrTunnelIO wrapping the cause", ev.Err)
	}

	links := d.ConnectedLinks()
	if len(links) != 1 || links[0].ID != "b" || links[0].AllocationPercentage != 100 {
		t.Errorf("remaining links = %+v, want b at 100%%", links)
	}
	if !tr.conn("a").isClosed() {
		t.Error("failed tunnel transport not closed")
	}

	before := tr.conn("b").writeCount()
	for i := 0; i < 10; i++ {
		d.Dispatch(pkt)
	}
	waitFor(t, "traffic moved to b", func() bool { return tr.conn("b").writeCount() >= before+10 })
}

func TestDispatcher_MalformedDropped(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 8)
	if err := d.AddLink(context.Background(), link.Link{ID: "a"}); err != nil {
		t.Fatal(err)
	}

	d.Dispatch([]byte{0xde, 0xad})
	d.Dispatch(nil)

	if d.Malformed() != 2 {
		t.Errorf("Malformed() = %d, want 2", d.Malformed())
	}
	if d.Captured() != 2 {
		t.Errorf("Captured() = %d, want 2", d.Captured())
	}
	if n := tr.conn("a").writeCount(); n != 0 {
		t.Errorf("malformed packets forwarded: %d", n)
	}
}

func TestDispatcher_NoLinksDrops(t *testing.T) {
	d, _ := testDispatcher(t, newFakeTransport(), 8)
	d.Dispatch(ipv4Packet(ProtoUDP, 0))
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDispatcher_AddLinkTransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.openErr["a"] = errors.New("no route")
	d, _ := testDispatcher(t, tr, 8)

	err := d.AddLink(context.Background(), link.Link{ID: "a"})
	if !errors.Is(err, link.ErrLinkEstablish) {
		t.Fatalf("AddLink() error = %v, want ErrLinkEstablish", err)
	}
	if len(d.ConnectedLinks()) != 0 {
		t.Error("failed link reported as connected")
	}
}

func TestDispatcher_AddLinkIdempotent(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 8)
	ctx := context.Background()
	first := link.Link{ID: "a"}
	if err := d.AddLink(ctx, first); err != nil {
		t.Fatal(err)
	}
	conn := tr.conn("a")
	if err := d.AddLink(ctx, first); err != nil {
		t.Fatal(err)
	}
	if tr.conn("a") != conn {
		t.Error("second AddLink opened a new transport")
	}
}

func TestDispatcher_RemoveLinkRebalances(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 8)
	d.SetStrategy(link.StrategyRoundRobin)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := d.AddLink(ctx, link.Link{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	if !d.RemoveLink("b") {
		t.Fatal("RemoveLink(b) = false")
	}
	if d.RemoveLink("b") {
		t.Error("second RemoveLink(b) = true")
	}
	for _, l := range d.ConnectedLinks() {
		if l.AllocationPercentage != 50 {
			t.Errorf("%s allocation = %v, want 50", l.ID, l.AllocationPercentage)
		}
	}
	if !tr.conn("b").isClosed() {
		t.Error("removed tunnel transport not closed")
	}
}

func TestDispatcher_SetAllocationsRecomputes(t *testing.T) {
	tr := newFakeTransport()
	d, _ := testDispatcher(t, tr, 8)
	d.SetStrategy(link.StrategySpeedWeighted)
	ctx := context.Background()
	_ = d.AddLink(ctx, link.Link{ID: "a", SpeedMbps: 10})
	_ = d.AddLink(ctx, link.Link{ID: "b", SpeedMbps: 10})

	d.SetAllocations([]link.Link{{ID: "a", SpeedMbps: 30}, {ID: "ghost", SpeedMbps: 100}})

	links := d.ConnectedLinks()
	if len(links) != 2 {
		t.Fatalf("ConnectedLinks() = %d links, want 2", len(links))
	}
	if links[0].AllocationPercentage != 75 {
		t.Errorf("a allocation = %v, want 75", links[0].AllocationPercentage)
	}
}

func TestDispatcher_InboundDelivered(t *testing.T) {
	tr := newFakeTransport()
	d, dev := testDispatcher(t, tr, 8)
	_ = d.AddLink(context.Background(), link.Link{ID: "a"})

	tr.conn("a").inbound <- ipv4Packet(ProtoUDP, 4)
	waitFor(t, "inbound packet on device", func() bool { return dev.writtenCount() == 1 })
}

func TestDispatcher_RunCapturesUntilCancelled(t *testing.T) {
	tr := newFakeTransport()
	d, dev := testDispatcher(t, tr, 8)
	_ = d.AddLink(context.Background(), link.Link{ID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	dev.in <- ipv4Packet(ProtoUDP, 0)
	waitFor(t, "captured packet forwarded", func() bool { return tr.conn("a").writeCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !dev.isClosed() {
		t.Error("device not closed after cancel")
	}
}

func TestDispatcher_RunDeviceFailure(t *testing.T) {
	d, dev := testDispatcher(t, newFakeTransport(), 8)
	dev.failErr = errors.New("device vanished")
	close(dev.in)

	err := d.Run(context.Background())
	if !errors.Is(err, link.ErrVirtualInterface) {
		t.Errorf("Run() = %v, want ErrVirtualInterface", err)
	}
}

func TestDispatcher_CloseStopsEverything(t *testing.T) {
	tr := newFakeTransport()
	dev := newFakeDevice()
	d := New(Config{QueueSize: 8, StopTimeout: time.Second}, dev, tr, discardLogger())
	_ = d.AddLink(context.Background(), link.Link{ID: "a"})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	if err := d.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Run() after Close = %v, want nil", err)
	}
	if !tr.conn("a").isClosed() || !dev.isClosed() {
		t.Error("Close left transport or device open")
	}
	if err := d.AddLink(context.Background(), link.Link{ID: "b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddLink after Close = %v, want ErrClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
