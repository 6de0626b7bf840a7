package logger

import "context"

// contextKey keeps the request-id value private to this package.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the id assigned by the request-id middleware so
// log records emitted anywhere under the request carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the stored request id, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
