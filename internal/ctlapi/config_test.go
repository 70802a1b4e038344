package ctlapi

import "testing"

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.SocketPath != DefaultSocketPath || cfg.AdminGroup != DefaultAdminGroup {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout || cfg.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("timeouts = %v / %v", cfg.ShutdownTimeout, cfg.RequestTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"negative shutdown", func(c *Config) { c.ShutdownTimeout = -1 }},
		{"negative request", func(c *Config) { c.RequestTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
