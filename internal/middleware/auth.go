package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/signsure/signsure/internal/auth"
)

// Messages returned for rejected sessions.
const (
	msgNotAuthenticated   = "User not authenticated"
	msgVerificationFailed = "Token verification failed"
)

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// RevocationChecker reports whether a token ID was revoked at logout.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger      *slog.Logger
	Tokens      TokenParser
	Revocations RevocationChecker
	CookieName  string
}

// Auth returns a middleware that authenticates requests by session token.
// The token is read from the session cookie, falling back to a Bearer
// Authorization header. Verified sessions are stored in the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r, cfg.CookieName)
			if token == "" {
				logAuthFailure(cfg.Logger, r, "missing_token")
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgNotAuthenticated)
				return
			}

			claims, err := cfg.Tokens.Parse(token)
			if err != nil {
				logAuthFailure(cfg.Logger, r, "invalid_token")
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgVerificationFailed)
				return
			}

			if cfg.Revocations != nil {
				revoked, err := cfg.Revocations.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					// Fail closed: a revoked token must never pass.
					cfg.Logger.Error("revocation check failed",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
					writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgVerificationFailed)
					return
				}
				if revoked {
					logAuthFailure(cfg.Logger, r, "revoked_token")
					writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgVerificationFailed)
					return
				}
			}

			session := auth.SessionFromClaims(claims)
			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", session.UserID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
		})
	}
}

// ExtractToken returns the session token from the named cookie or from an
// "Authorization: Bearer" header.
func ExtractToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}

	return ""
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", getClientIP(r)),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}
