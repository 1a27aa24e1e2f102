package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"creator-sync/shared/authx"
	"creator-sync/shared/httpx"
	"creator-sync/shared/logx"
)

// AuthMiddleware admits bearer tokens that verify and carry Role.
type AuthMiddleware struct {
	Verifier authx.Verifier
	Role     string
	Logger   logx.Logger
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusPreconditionFailed, "FAILED_PRECONDITION", "auth verifier not configured", nil)
			return
		}

		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(authHeader[len("bearer "):])
		principal, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, authx.ErrUnknownKID) {
				reason = "unknown_kid"
			}
			m.Logger.Warn(r.Context(), "auth_rejected", "bearer token rejected",
				slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
				slog.String("reason", reason),
			)
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}
		httpx.SetSubject(r.Context(), principal.Subject)

		if m.Role != "" && !principal.HasRole(m.Role) {
			m.Logger.Warn(r.Context(), "auth_forbidden", "caller lacks required role",
				slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
				slog.String("subject", principal.Subject),
				slog.String("role", m.Role),
			)
			httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "missing role "+m.Role, nil)
			return
		}

		ctx := authx.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
