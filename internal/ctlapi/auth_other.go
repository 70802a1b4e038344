//go:build !linux

package ctlapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

func applySocketPermissions(_, _ string, _ *slog.Logger) {}

// connContextWithPeerCred returns nil where SO_PEERCRED is unavailable.
func connContextWithPeerCred(_ *slog.Logger) func(ctx context.Context, c net.Conn) context.Context {
	return nil
}

// wrapAdminAuth is a no-op without peer credential extraction.
func wrapAdminAuth(next http.Handler, _ string, _ *slog.Logger) http.Handler {
	return next
}
