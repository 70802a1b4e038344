package cmd

import (
	"context"
	"time"

	"github.com/plexsphere/bondd/internal/ctlapi"
)

// requestTimeout bounds a single CLI call to the agent. Connect and method
// switches may wait on provider setup, so it is generous.
const requestTimeout = 45 * time.Second

// newAgentClient returns a control API client for the configured socket.
func newAgentClient() *ctlapi.Client {
	return ctlapi.NewClient(socketPath)
}

func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}
