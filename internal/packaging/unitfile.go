package packaging

import (
	"fmt"
	"path/filepath"
)

// GenerateUnitFile produces the systemd unit for the bondd service.
func GenerateUnitFile(cfg InstallConfig) string {
	cfg.ApplyDefaults()

	return fmt.Sprintf(`[Unit]
Description=bondd multi-link bonding agent
After=network-online.target
Wants=network-online.target
StartLimitBurst=5
StartLimitIntervalSec=60

[Service]
Type=simple
User=%s
Group=%s
ExecStart=%s up --config %s
Restart=on-failure
RestartSec=5s
AmbientCapabilities=CAP_NET_ADMIN CAP_NET_RAW
CapabilityBoundingSet=CAP_NET_ADMIN CAP_NET_RAW CAP_CHOWN
DeviceAllow=/dev/net/tun rw
ProtectSystem=full
ProtectHome=true
ReadWritePaths=%s %s
%s
[Install]
WantedBy=multi-user.target
`, cfg.User, cfg.User, cfg.BinaryPath, filepath.Join(cfg.ConfigDir, "config.yaml"),
		cfg.StateDir, cfg.RunDir, runtimeDirectory(cfg.RunDir))
}

// runtimeDirectory returns a RuntimeDirectory= line when dir lives directly
// under /run, so systemd recreates it with the service user as owner.
func runtimeDirectory(dir string) string {
	switch filepath.Dir(filepath.Clean(dir)) {
	case "/run", "/var/run":
		return "RuntimeDirectory=" + filepath.Base(dir) + "\n"
	}
	return ""
}
