package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/ctlapi"
	"github.com/plexsphere/bondd/internal/link"
)

// fakeBonding is a minimal in-memory controller.
type fakeBonding struct {
	mu        sync.Mutex
	snap      controller.Snapshot
	scan      []link.Link
	connected []string
}

func (f *fakeBonding) Status() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBonding) Scan(context.Context) []link.Link { return f.scan }

func (f *fakeBonding) Connect(_ context.Context, links []link.Link) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = link.IDs(links)
	f.snap.Links = links
	f.snap.Connected = true
	f.snap.State = controller.StateActive
	return true
}

func (f *fakeBonding) Disconnect(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.snap.Connected
	f.snap.Connected = false
	f.snap.Links = nil
	f.snap.State = controller.StateDisconnected
	return was
}

func (f *fakeBonding) SwitchMethod(_ context.Context, m link.Method) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Method = m
	return m != link.MethodCapture
}

func (f *fakeBonding) SetStrategy(_ context.Context, s link.Strategy) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Strategy = s
	return true
}

func (f *fakeBonding) connectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// startFakeAgent serves the control API for b on a temp Unix socket and
// returns the socket path.
func startFakeAgent(t *testing.T, b *fakeBonding) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bondd-cli")
	if err != nil {
		t.Fatal(err)
	}
	sock := filepath.Join(dir, "ctl.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := &http.Server{Handler: ctlapi.NewHandler(b, nil, nil, time.Second, logger).Mux()}
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		srv.Close()
		os.RemoveAll(dir)
	})
	return sock
}

// execute runs the CLI with args against the given socket.
func execute(t *testing.T, sock string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--socket", sock}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func twoLinks() []link.Link {
	return []link.Link{
		{ID: "eth0", Interface: "eth0", Kind: link.KindEthernet, SpeedMbps: 100, LatencyMs: 10},
		{ID: "wwan0", Interface: "wwan0", Kind: link.KindCellular, SpeedMbps: 40, LatencyMs: 60},
	}
}
