package link

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by providers, the dispatcher and the controller.
var (
	// ErrCapabilityUnavailable means the method is unsupported on this host.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrPermissionDenied means the capture permission was not granted.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrLinkEstablish means a specific requested link failed to connect.
	ErrLinkEstablish = errors.New("link establish failure")

	// ErrTunnelIO means a tunnel's transport failed; it is handled as link loss.
	ErrTunnelIO = errors.New("tunnel I/O error")

	// ErrVirtualInterface means the capture interface could not be created or failed.
	ErrVirtualInterface = errors.New("virtual interface failure")
)

// LinkError associates an error with the link it happened on.
type LinkError struct {
	LinkID string
	Err    error
}

// Error returns the formatted error string.
func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %v", e.LinkID, e.Err)
}

// Unwrap returns the underlying error.
func (e *LinkError) Unwrap() error {
	return e.Err
}

// EstablishError wraps cause as a LinkEstablish failure for linkID.
func EstablishError(linkID string, cause error) error {
	return &LinkError{LinkID: linkID, Err: errors.Join(ErrLinkEstablish, cause)}
}
