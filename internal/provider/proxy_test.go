package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/netif"
)

func TestProxy_InitializeNeverFails(t *testing.T) {
	p := NewProxy(Config{}, &mockHost{err: errors.New("no host")}, &mockDialer{}, nil, discardLogger())
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v, want nil", err)
	}
}

func TestProxy_ConnectThroughEndpoint(t *testing.T) {
	dialer := &mockDialer{fail: map[string]bool{"wlan0": true}}
	p := NewProxy(Config{ProxyEndpoint: "proxy.internal:3128"}, twoUplinks(), dialer, nil, discardLogger())
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	got, err := p.Connect(context.Background(), []link.Link{{ID: "eth0"}, {ID: "wlan0"}})
	if !errors.Is(err, link.ErrLinkEstablish) {
		t.Fatalf("Connect() error = %v, want ErrLinkEstablish for wlan0", err)
	}
	if len(got) != 1 || got[0].ID != "eth0" || got[0].Method != link.MethodProxy {
		t.Fatalf("connected = %+v, want eth0 via proxy", got)
	}
	if got[0].LatencyMs < 1 {
		t.Errorf("latency = %d, want measured value", got[0].LatencyMs)
	}
	if len(dialer.dials) != 2 || dialer.dials[0] != "eth0->proxy.internal:3128" {
		t.Errorf("dials = %v", dialer.dials)
	}
}

func TestProxy_ConnectDirectWithoutEndpoint(t *testing.T) {
	dialer := &mockDialer{}
	p := NewProxy(Config{}, twoUplinks(), dialer, &mockPinger{err: errors.New("offline")}, discardLogger())

	got, err := p.Connect(context.Background(), []link.Link{{ID: "eth0"}, {ID: "wlan0"}})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("connected = %v, want 2 links", link.IDs(got))
	}
	if len(dialer.dials) != 0 {
		t.Errorf("dials = %v, want none", dialer.dials)
	}
}

func TestProxy_RejectsDownInterface(t *testing.T) {
	down := uplink("eth0", link.KindEthernet, "192.168.1.1")
	down.Carrier = false
	p := NewProxy(Config{}, &mockHost{ifaces: []netif.Interface{down}}, &mockDialer{}, nil, discardLogger())

	got, err := p.Connect(context.Background(), []link.Link{{ID: "eth0"}})
	if !errors.Is(err, link.ErrLinkEstablish) || len(got) != 0 {
		t.Errorf("Connect() = %v, %v; want no links and ErrLinkEstablish", got, err)
	}
}

func TestProxy_RefreshAndAllocation(t *testing.T) {
	host := twoUplinks()
	p := NewProxy(Config{}, host, &mockDialer{}, nil, discardLogger())
	rec := &eventRecorder{}
	p.SetEventHandler(rec.handle)
	if _, err := p.Connect(context.Background(), []link.Link{{ID: "eth0"}, {ID: "wlan0"}}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := p.ApplyAllocation([]link.Link{{ID: "eth0", AllocationPercentage: 60}, {ID: "wlan0", AllocationPercentage: 40}}); err != nil {
		t.Fatalf("ApplyAllocation() error = %v", err)
	}

	host.set(uplink("wlan0", link.KindWiFi, "192.168.2.1"))
	if err := p.RefreshMetrics(context.Background()); err != nil {
		t.Fatalf("RefreshMetrics() error = %v", err)
	}

	links := p.ConnectedLinks()
	if len(links) != 1 || links[0].ID != "wlan0" || links[0].AllocationPercentage != 40 {
		t.Errorf("connected = %+v, want wlan0 keeping 40%%", links)
	}
	if ev := rec.list(); len(ev) != 1 || ev[0].Link.ID != "eth0" {
		t.Errorf("events = %+v, want eth0 lost", ev)
	}
	if err := p.Disconnect(context.Background()); err != nil || len(p.ConnectedLinks()) != 0 {
		t.Errorf("Disconnect() = %v, links left %d", err, len(p.ConnectedLinks()))
	}
}
