package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/bondd/internal/agent"
	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/ctlapi"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
)

// drainTimeout is the maximum time for graceful shutdown.
const drainTimeout = 30 * time.Second

var (
	upMethod   string
	upStrategy string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the bondd agent",
	Long: "Start the bondd agent daemon. Detects link capabilities, initializes the\n" +
		"preferred bonding method with fallback, connects the configured links and\n" +
		"serves the local control API until interrupted.",
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVar(&upMethod, "method", "", "preferred bonding method (overrides config)")
	upCmd.Flags().StringVar(&upStrategy, "strategy", "", "initial allocation strategy (overrides config)")
	rootCmd.AddCommand(upCmd)
}

// system is the platform-specific part of the agent.
type system struct {
	ctrl       *controller.Controller
	counters   ctlapi.CounterSource
	collectors []metrics.Collector
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("bondd up: %w", err)
	}
	if err := applyOverrides(cfg); err != nil {
		return fmt.Errorf("bondd up: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting bondd",
		"version", buildVersion,
		"method", cfg.Bonding.Method,
		"strategy", cfg.Bonding.Strategy,
	)

	sys, err := newSystem(cfg, logger)
	if err != nil {
		return fmt.Errorf("bondd up: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return runAgent(ctx, cfg, sys, logger)
}

// loadConfig parses the config file. A missing file at the default path
// means running on defaults.
func loadConfig(cmd *cobra.Command) (*agent.AgentConfig, error) {
	cfg, err := agent.ParseConfig(cfgFile)
	if err == nil {
		return cfg, nil
	}
	if f := cmd.Flag("config"); errors.Is(err, fs.ErrNotExist) && (f == nil || !f.Changed) {
		return agent.DefaultConfig(), nil
	}
	return nil, err
}

// applyOverrides applies CLI flags on top of cfg and revalidates it.
func applyOverrides(cfg *agent.AgentConfig) error {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if upMethod != "" {
		cfg.Bonding.Method = upMethod
	}
	if upStrategy != "" {
		cfg.Bonding.Strategy = upStrategy
	}
	return cfg.Validate()
}

func runAgent(ctx context.Context, cfg *agent.AgentConfig, sys *system, logger *slog.Logger) error {
	ctrl := sys.ctrl
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("bondd up: start controller: %w", err)
	}

	history := metrics.NewHistory(cfg.Metrics.SeriesSize)
	metricsMgr := metrics.NewManager(cfg.Metrics, sys.collectors, history, logger)
	ctlSrv := ctlapi.NewServer(cfg.CtlAPI, ctrl, sys.counters, history, logger)
	heartbeat := agent.NewHeartbeatService(cfg.Heartbeat, cfg.StateDir, ctrl, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctlSrv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control API server stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsMgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("metrics manager stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = heartbeat.Run(ctx)
	}()

	bringUp(ctx, cfg, ctrl, logger)

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())

	// Tear down links before the API goes away so status stays accurate.
	ctrl.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	logger.Info("bondd stopped")
	return nil
}

// bringUp initializes the preferred method and connects the configured
// links. Failures leave the agent running so the method can be switched
// through the control API.
func bringUp(ctx context.Context, cfg *agent.AgentConfig, ctrl *controller.Controller, logger *slog.Logger) {
	var preferred link.Method
	if cfg.Bonding.Method != "" {
		// Validated by applyOverrides.
		preferred, _ = link.ParseMethod(cfg.Bonding.Method)
	}
	if !ctrl.Initialize(ctx, preferred) {
		logger.Warn("no bonding method could be initialized", "preferred", preferred)
		return
	}

	links := selectLinks(ctrl.Scan(ctx), cfg.Bonding.Links)
	if len(links) == 0 {
		logger.Warn("no links to connect", "method", ctrl.Method(), "configured", cfg.Bonding.Links)
		return
	}
	if !ctrl.Connect(ctx, links) {
		logger.Warn("no configured link connected", "links", link.IDs(links))
		return
	}
	logger.Info("bonding active",
		"method", ctrl.Method(),
		"links", link.IDs(ctrl.ConnectedLinks()),
		"combined_speed_mbps", ctrl.CombinedSpeed(),
	)
}

// selectLinks returns the scanned links named in ids, keeping scan order,
// or every scanned link when ids is empty.
func selectLinks(scanned []link.Link, ids []string) []link.Link {
	if len(ids) == 0 {
		return scanned
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []link.Link
	for _, l := range scanned {
		if want[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
