package packaging

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
)

// systemctl drives systemd through the systemctl binary.
type systemctl struct{}

// NewSystemdController returns a SystemdController backed by systemctl.
func NewSystemdController() SystemdController {
	return systemctl{}
}

func (systemctl) IsAvailable() bool {
	if _, err := exec.LookPath("systemctl"); err != nil {
		return false
	}
	// systemctl exists in containers without a running systemd.
	_, err := os.Stat("/run/systemd/system")
	return err == nil
}

func (s systemctl) DaemonReload() error      { return s.run("daemon-reload") }
func (s systemctl) Enable(name string) error  { return s.run("enable", name) }
func (s systemctl) Disable(name string) error { return s.run("disable", name) }
func (s systemctl) Stop(name string) error    { return s.run("stop", name) }

func (systemctl) IsActive(name string) bool {
	return exec.Command("systemctl", "is-active", "--quiet", name).Run() == nil
}

func (systemctl) run(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("packaging: systemctl %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// euidChecker reports root from the effective UID.
type euidChecker struct{}

// NewRootChecker returns a RootChecker for the current process.
func NewRootChecker() RootChecker {
	return euidChecker{}
}

func (euidChecker) IsRoot() bool {
	return os.Geteuid() == 0
}

// systemUsers manages accounts with os/user and useradd.
type systemUsers struct{}

// NewUserManager returns a UserManager for the local host.
func NewUserManager() UserManager {
	return systemUsers{}
}

func (systemUsers) EnsureUser(name string) (int, int, error) {
	u, err := user.Lookup(name)
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		out, aerr := exec.Command("useradd", "--system", "--user-group",
			"--no-create-home", "--shell", "/usr/sbin/nologin", name).CombinedOutput()
		if aerr != nil {
			return 0, 0, fmt.Errorf("packaging: useradd %s: %s: %w", name, strings.TrimSpace(string(out)), aerr)
		}
		u, err = user.Lookup(name)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("packaging: lookup user %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("packaging: user %s: uid %q: %w", name, u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("packaging: user %s: gid %q: %w", name, u.Gid, err)
	}
	return uid, gid, nil
}
