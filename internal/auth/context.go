package auth

import (
	"context"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// sessionContextKey is the context key for storing Session.
	sessionContextKey contextKey = "session"
)

// Session describes the authenticated caller of a request.
type Session struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// SessionFromClaims builds a Session from verified token claims.
func SessionFromClaims(c *Claims) *Session {
	s := &Session{UserID: c.UserID, TokenID: c.ID}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// ContextWithSession adds Session to the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext retrieves Session from the context.
// Returns nil if not present.
func SessionFromContext(ctx context.Context) *Session {
	s, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return s
}

// UserIDFromContext is a convenience function to get user ID from context.
// Returns empty string if not authenticated.
func UserIDFromContext(ctx context.Context) string {
	s := SessionFromContext(ctx)
	if s == nil {
		return ""
	}
	return s.UserID
}
