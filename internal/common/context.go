package common

import (
	"context"
	"time"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyDocKey    contextKey = "doc_key"
	ContextKeyRunID     contextKey = "run_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithDocKey tags the context with the document being arbitrated.
func WithDocKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ContextKeyDocKey, key)
}

func DocKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(ContextKeyDocKey).(string); ok {
		return key
	}
	return ""
}

// WithRunID tags the context with the arbitration run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return id
	}
	return ""
}

// WithTimeout creates a context with the specified timeout; zero means no timeout.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
