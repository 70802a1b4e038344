package packaging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/plexsphere/bondd/internal/fsutil"
)

// Installer installs and removes the bondd systemd service.
type Installer struct {
	cfg     InstallConfig
	systemd SystemdController
	root    RootChecker
	users   UserManager
	self    func() (string, error)
	logger  *slog.Logger
}

// NewInstaller creates a new Installer with defaults applied.
func NewInstaller(cfg InstallConfig, systemd SystemdController, root RootChecker, users UserManager, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:     cfg,
		systemd: systemd,
		root:    root,
		users:   users,
		self:    os.Executable,
		logger:  logger.With("component", "packaging"),
	}
}

// Install creates the service user, copies the binary, seeds config.yaml
// when absent, writes the unit file and reloads systemd. Running it again
// refreshes the binary and unit.
func (ins *Installer) Install() error {
	if err := ins.cfg.Validate(); err != nil {
		return err
	}
	if !ins.root.IsRoot() {
		return errors.New("packaging: install requires root privileges")
	}
	if !ins.systemd.IsAvailable() {
		return errors.New("packaging: systemd is not available")
	}

	for _, d := range []struct {
		path string
		perm os.FileMode
	}{
		{ins.cfg.ConfigDir, 0o755},
		{ins.cfg.StateDir, 0o755},
		{ins.cfg.RunDir, 0o755},
	} {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("packaging: create directory %s: %w", d.path, err)
		}
	}

	uid, gid, err := ins.users.EnsureUser(ins.cfg.User)
	if err != nil {
		return err
	}
	for _, dir := range []string{ins.cfg.StateDir, ins.cfg.RunDir} {
		if err := os.Chown(dir, uid, gid); err != nil {
			return fmt.Errorf("packaging: chown %s: %w", dir, err)
		}
	}
	ins.logger.Info("service user ready", "user", ins.cfg.User, "uid", uid)

	if err := ins.copyBinary(); err != nil {
		return err
	}
	if err := ins.seedConfig(); err != nil {
		return err
	}

	unitDir, unitName := filepath.Split(ins.cfg.UnitFilePath)
	if err := fsutil.WriteFileAtomic(unitDir, unitName, []byte(GenerateUnitFile(ins.cfg)), 0o644); err != nil {
		return fmt.Errorf("packaging: write unit file: %w", err)
	}
	ins.logger.Info("unit file written", "path", ins.cfg.UnitFilePath)

	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	if ins.cfg.Enable {
		if err := ins.systemd.Enable(ins.cfg.ServiceName); err != nil {
			return fmt.Errorf("packaging: enable: %w", err)
		}
		ins.logger.Info("service enabled", "service", ins.cfg.ServiceName)
	}
	return nil
}

// Uninstall stops and removes the service and binary. purge also removes the
// config and state directories.
func (ins *Installer) Uninstall(purge bool) error {
	if !ins.root.IsRoot() {
		return errors.New("packaging: uninstall requires root privileges")
	}
	if _, err := os.Stat(ins.cfg.UnitFilePath); errors.Is(err, os.ErrNotExist) {
		ins.logger.Info("bondd is not installed, nothing to do")
		return nil
	}

	// The service may already be stopped or disabled.
	if ins.systemd.IsActive(ins.cfg.ServiceName) {
		if err := ins.systemd.Stop(ins.cfg.ServiceName); err != nil {
			ins.logger.Warn("stop service", "error", err)
		}
	}
	if err := ins.systemd.Disable(ins.cfg.ServiceName); err != nil {
		ins.logger.Info("disable service", "error", err)
	}

	if err := os.Remove(ins.cfg.UnitFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove unit file: %w", err)
	}
	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	if err := os.Remove(ins.cfg.BinaryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove binary: %w", err)
	}
	ins.logger.Info("service removed", "service", ins.cfg.ServiceName)

	if purge {
		for _, dir := range []string{ins.cfg.StateDir, ins.cfg.ConfigDir} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("packaging: remove directory %s: %w", dir, err)
			}
			ins.logger.Info("directory removed", "path", dir)
		}
	}
	return nil
}

func (ins *Installer) seedConfig() error {
	configPath := filepath.Join(ins.cfg.ConfigDir, "config.yaml")
	_, err := os.Stat(configPath)
	switch {
	case err == nil:
		ins.logger.Info("existing config preserved", "path", configPath)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("packaging: stat config: %w", err)
	}

	content, err := GenerateDefaultConfig(ins.cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(ins.cfg.ConfigDir, "config.yaml", []byte(content), 0o644); err != nil {
		return fmt.Errorf("packaging: write config: %w", err)
	}
	ins.logger.Info("default config written", "path", configPath)
	return nil
}

func (ins *Installer) copyBinary() error {
	srcPath, err := ins.self()
	if err != nil {
		return fmt.Errorf("packaging: resolve executable path: %w", err)
	}
	srcPath, err = filepath.EvalSymlinks(srcPath)
	if err != nil {
		return fmt.Errorf("packaging: resolve symlinks: %w", err)
	}
	dstPath := ins.cfg.BinaryPath
	if srcPath == dstPath {
		ins.logger.Info("binary already at install path, skipping copy", "path", dstPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("packaging: create binary directory: %w", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("packaging: open source binary: %w", err)
	}
	defer src.Close()

	// Write beside the target and rename so a running binary is not truncated.
	tmp := dstPath + ".new"
	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("packaging: create destination binary: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("packaging: copy binary: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("packaging: close binary: %w", err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("packaging: install binary: %w", err)
	}
	ins.logger.Info("binary installed", "src", srcPath, "dst", dstPath)
	return nil
}
