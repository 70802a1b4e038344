package ctlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/user"
	"strconv"
)

// PeerCredentials holds the credentials of the process on the other end of
// a Unix socket connection.
type PeerCredentials struct {
	PID uint32
	UID uint32
	GID uint32
}

// PeerCredGetter extracts peer credentials from a request.
type PeerCredGetter interface {
	GetPeerCredentials(r *http.Request) (*PeerCredentials, error)
}

// GroupChecker reports whether uid (with primary gid) belongs to a group.
type GroupChecker interface {
	IsInGroup(uid, gid uint32, groupName string) bool
}

// OSGroupChecker checks group membership using the OS user/group database.
type OSGroupChecker struct{}

func (OSGroupChecker) IsInGroup(uid, gid uint32, groupName string) bool {
	grp, err := user.LookupGroup(groupName)
	if err != nil {
		return false
	}
	if strconv.FormatUint(uint64(gid), 10) == grp.Gid {
		return true
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, g := range ids {
		if g == grp.Gid {
			return true
		}
	}
	return false
}

var errNoPeerCred = errors.New("ctlapi: peer credentials not available")

type peerCredKey struct{}

// withPeerCred stores cred in ctx.
func withPeerCred(ctx context.Context, cred *PeerCredentials) context.Context {
	return context.WithValue(ctx, peerCredKey{}, cred)
}

// contextPeerCredGetter reads credentials stored by the server's ConnContext.
type contextPeerCredGetter struct{}

func (contextPeerCredGetter) GetPeerCredentials(r *http.Request) (*PeerCredentials, error) {
	cred, ok := r.Context().Value(peerCredKey{}).(*PeerCredentials)
	if !ok || cred == nil {
		return nil, errNoPeerCred
	}
	return cred, nil
}

// AdminAuthMiddleware restricts state-changing requests to root and members
// of group. GET requests pass through.
func AdminAuthMiddleware(group string, checker GroupChecker, getter PeerCredGetter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			cred, err := getter.GetPeerCredentials(r)
			if err != nil {
				logger.Error("failed to get peer credentials", "error", err)
				writeError(w, http.StatusForbidden, "forbidden: caller credentials unavailable")
				return
			}
			if cred.UID == 0 || checker.IsInGroup(cred.UID, cred.GID, group) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("control access denied",
				"uid", cred.UID,
				"gid", cred.GID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeError(w, http.StatusForbidden, "forbidden: requires root or group "+group)
		})
	}
}
