/*
auth.go - Request principal extraction and role checks

PURPOSE:
  The platform sits behind an identity provider that authenticates users
  and forwards the principal as X-User-ID / X-User-Role headers. This
  layer trusts those headers and enforces role-based access:
  - youth users see their own records only
  - staff and peer navigators read across users and see statistics
  - vendors verify redemptions

SEE ALSO:
  - ledger/types.go: Role definitions and capability checks
*/
package api

import (
	"context"
	"net/http"

	"github.com/vsla/health-engine/ledger"
)

// Principal is the authenticated caller forwarded by the identity layer.
type Principal struct {
	UserID ledger.UserID
	Role   ledger.Role
}

type principalKey struct{}

// WithPrincipal parses the identity headers into the request context.
// Requests without a valid principal are rejected before any handler runs.
func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Principal{
			UserID: ledger.UserID(r.Header.Get("X-User-ID")),
			Role:   ledger.Role(r.Header.Get("X-User-Role")),
		}
		if p.UserID == "" || !p.Role.Valid() {
			writeError(w, http.StatusUnauthorized, "Missing or invalid identity headers", nil)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) Principal {
	p, _ := r.Context().Value(principalKey{}).(Principal)
	return p
}

// canAccessUser reports whether the caller may read records owned by the
// given user. Everyone sees their own; staff and navigators see all.
func (p Principal) canAccessUser(owner ledger.UserID) bool {
	return p.UserID == owner || p.Role.CanViewCrossUser()
}

// requireRole writes a 403 and returns false unless the caller's role
// passes the check.
func requireRole(w http.ResponseWriter, p Principal, action string, ok bool) bool {
	if ok {
		return true
	}
	writeError(w, http.StatusForbidden, "Forbidden",
		&ledger.PermissionError{Role: p.Role, Action: action})
	return false
}
