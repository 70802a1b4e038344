package packaging

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type seedBonding struct {
	Method string   `yaml:"method,omitempty"`
	Links  []string `yaml:"links,omitempty"`
}

type seedCtlAPI struct {
	SocketPath string `yaml:"socket_path"`
}

type seedConfig struct {
	LogLevel string      `yaml:"log_level"`
	StateDir string      `yaml:"state_dir"`
	Bonding  seedBonding `yaml:"bonding,omitempty"`
	CtlAPI   seedCtlAPI  `yaml:"ctl_api"`
}

// GenerateDefaultConfig produces a minimal config.yaml for the install paths.
func GenerateDefaultConfig(cfg InstallConfig) (string, error) {
	cfg.ApplyDefaults()
	out, err := yaml.Marshal(seedConfig{
		LogLevel: "info",
		StateDir: cfg.StateDir,
		Bonding:  seedBonding{Method: cfg.Method, Links: cfg.Links},
		CtlAPI:   seedCtlAPI{SocketPath: filepath.Join(cfg.RunDir, "ctl.sock")},
	})
	if err != nil {
		return "", fmt.Errorf("packaging: encode default config: %w", err)
	}
	return "# bondd configuration\n# Unset options use built-in defaults.\n\n" + string(out), nil
}
