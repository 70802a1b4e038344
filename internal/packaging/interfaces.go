package packaging

// SystemdController manages systemd units. Mutating methods are idempotent.
type SystemdController interface {
	IsAvailable() bool
	DaemonReload() error
	Enable(service string) error
	Disable(service string) error
	// Stop returns nil if the service is not running.
	Stop(service string) error
	IsActive(service string) bool
}

// RootChecker reports whether the process runs with root privileges.
type RootChecker interface {
	IsRoot() bool
}

// UserManager provisions the system account the service runs as.
type UserManager interface {
	// EnsureUser creates name as a system user unless it exists and returns
	// its uid and primary gid.
	EnsureUser(name string) (uid, gid int, err error)
}
