//go:build !linux

package cmd

import (
	"errors"
	"log/slog"

	"github.com/plexsphere/bondd/internal/agent"
)

func newSystem(_ *agent.AgentConfig, _ *slog.Logger) (*system, error) {
	return nil, errors.New("the agent requires Linux (netlink, nftables, TUN)")
}
