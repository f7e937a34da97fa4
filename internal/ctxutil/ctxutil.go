// Package ctxutil provides shared context key accessors for request-scoped
// identity. The server's identity middleware writes them; handlers and
// services read them without importing the server package.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyProjectID contextKey = "project_id"
	keyUserID    contextKey = "user_id"
)

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithIdentity returns a new context carrying the caller's project and user.
func WithIdentity(ctx context.Context, projectID, userID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, keyProjectID, projectID)
	ctx = context.WithValue(ctx, keyUserID, userID)
	return ctx
}

// ProjectIDFromContext extracts the project id from the context.
func ProjectIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyProjectID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// UserIDFromContext extracts the user id from the context.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyUserID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
