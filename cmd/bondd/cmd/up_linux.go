//go:build linux

package cmd

import (
	"log/slog"

	"github.com/plexsphere/bondd/internal/agent"
	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/dispatch"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/netif"
	"github.com/plexsphere/bondd/internal/provider"
)

// newSystem wires the netlink, nftables and TUN backed implementations.
func newSystem(cfg *agent.AgentConfig, logger *slog.Logger) (*system, error) {
	host := netif.NewNetlinkHost(cfg.Netif, logger)
	router := netif.NewNetlinkMultipathRouter(logger)
	dialer := netif.NewBoundDialer(cfg.Netif)
	pinger := metrics.NewTCPPinger(dialer, cfg.Metrics)

	transport := dispatch.NewUDPTransport(dialer, cfg.Dispatch.RelayEndpoint)
	captureRouter := dispatch.NewNetlinkCaptureRouter(cfg.Dispatch, logger)
	openTUN := func(dc dispatch.Config) (dispatch.Device, error) {
		return dispatch.OpenTUN(dc, logger)
	}

	captures := &provider.CaptureRef{}
	providers := provider.Set{
		link.MethodNative: func() provider.Provider {
			return provider.NewNative(cfg.Provider, host, router, pinger, logger)
		},
		link.MethodAdapter: func() provider.Provider {
			return provider.NewAdapter(cfg.Provider, host, router, pinger, logger)
		},
		link.MethodHybrid: func() provider.Provider {
			return provider.NewHybrid(cfg.Provider, host, router, pinger, logger)
		},
		link.MethodProxy: func() provider.Provider {
			return provider.NewProxy(cfg.Provider, host, dialer, pinger, logger)
		},
		link.MethodCapture: func() provider.Provider {
			return captures.Track(provider.NewCapture(cfg.Dispatch, host, openTUN, captureRouter, transport, pinger, logger))
		},
	}

	ctrl := controller.New(cfg.Bonding,
		netif.NewHostProbe(host, logger),
		netif.NewCapabilityPermission(logger),
		providers,
		logger,
	)

	return &system{
		ctrl:     ctrl,
		counters: captures,
		collectors: []metrics.Collector{
			metrics.NewLinkCollector(ctrl),
			metrics.NewLatencyCollector(pinger, ctrl, logger),
			metrics.NewTunnelCollector(captures),
		},
	}, nil
}
