package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	requestIDKey
)

// WithJobID stores an email job id for log correlation.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithRequestID stores an HTTP request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// JobIDExtractor adds job_id to every record logged with a job context.
func JobIDExtractor() ContextExtractor {
	return stringExtractor(jobIDKey, "job_id")
}

// RequestIDExtractor adds request_id to every record logged within a request.
func RequestIDExtractor() ContextExtractor {
	return stringExtractor(requestIDKey, "request_id")
}

func stringExtractor(key ctxKey, name string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			return slog.String(name, v), true
		}
		return slog.Attr{}, false
	}
}
