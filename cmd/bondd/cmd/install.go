package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/plexsphere/bondd/internal/packaging"
)

var (
	installMethod string
	installLinks  []string
	installEnable bool
	installUser   string
	purge         bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install bondd as a systemd service",
	Args:  cobra.NoArgs,
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the bondd systemd service",
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

func init() {
	installCmd.Flags().StringVar(&installMethod, "method", "", "preferred bonding method written to a new config")
	installCmd.Flags().StringSliceVar(&installLinks, "links", nil, "link IDs written to a new config")
	installCmd.Flags().BoolVar(&installEnable, "enable", false, "enable the service to start on boot")
	installCmd.Flags().StringVar(&installUser, "user", packaging.DefaultUser, "system account the service runs as")
	uninstallCmd.Flags().BoolVar(&purge, "purge", false, "also remove state and config directories")
	rootCmd.AddCommand(installCmd, uninstallCmd)
}

func runInstall(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := packaging.InstallConfig{
		Method: installMethod,
		Links:  installLinks,
		Enable: installEnable,
		User:   installUser,
	}
	installer := packaging.NewInstaller(cfg, packaging.NewSystemdController(), packaging.NewRootChecker(), packaging.NewUserManager(), logger)
	if err := installer.Install(); err != nil {
		return fmt.Errorf("bondd install: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "bondd installed successfully")
	return nil
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	installer := packaging.NewInstaller(packaging.InstallConfig{}, packaging.NewSystemdController(), packaging.NewRootChecker(), packaging.NewUserManager(), logger)
	if err := installer.Uninstall(purge); err != nil {
		return fmt.Errorf("bondd uninstall: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "bondd uninstalled successfully")
	return nil
}
