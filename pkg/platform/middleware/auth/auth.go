package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "modelproof/pkg/domain"
	"modelproof/pkg/requestcontext"
)

// ClaimsValidator verifies a bearer token and reports the caller's identity
// and role. Implemented by internal/platform/token.
type ClaimsValidator interface {
	ValidateToken(tokenString string) (*TokenIdentity, error)
}

// TokenIdentity is the subset of token claims the middleware needs.
type TokenIdentity struct {
	UserID string
	Admin  bool
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth authenticates the request from its Authorization header and
// injects the user ID and role into the request context.
func RequireAuth(validator ClaimsValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			identity, err := validator.ValidateToken(strings.TrimPrefix(authHeader, bearerPrefix))
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "token validation failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			userID, err := id.ParseUserID(identity.UserID)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid token subject")
				return
			}

			ctx := requestcontext.WithUserID(r.Context(), userID)
			ctx = requestcontext.WithAdmin(ctx, identity.Admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
