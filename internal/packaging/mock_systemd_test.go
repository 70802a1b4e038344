package packaging

import (
	"io"
	"log/slog"
	"os"
)

type mockSystemdController struct {
	available       bool
	active          bool
	daemonReloadErr error
	enableErr       error

	daemonReloadCalls int
	enableCalls       []string
	disableCalls      []string
	stopCalls         []string
}

func (m *mockSystemdController) IsAvailable() bool      { return m.available }
func (m *mockSystemdController) IsActive(_ string) bool { return m.active }

func (m *mockSystemdController) DaemonReload() error {
	m.daemonReloadCalls++
	return m.daemonReloadErr
}

func (m *mockSystemdController) Enable(service string) error {
	m.enableCalls = append(m.enableCalls, service)
	return m.enableErr
}

func (m *mockSystemdController) Disable(service string) error {
	m.disableCalls = append(m.disableCalls, service)
	return nil
}

func (m *mockSystemdController) Stop(service string) error {
	m.stopCalls = append(m.stopCalls, service)
	return nil
}

// mockUsers hands out the test process's own IDs so chown succeeds unprivileged.
type mockUsers struct {
	err     error
	ensured []string
}

func (m *mockUsers) EnsureUser(name string) (int, int, error) {
	m.ensured = append(m.ensured, name)
	if m.err != nil {
		return 0, 0, m.err
	}
	return os.Getuid(), os.Getgid(), nil
}

type mockRootChecker struct{ isRoot bool }

func (m mockRootChecker) IsRoot() bool { return m.isRoot }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
