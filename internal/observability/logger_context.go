package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// accountContextKey is the private context key used to store the account
// email currently being processed so that deeper layers (sheet gateway,
// executor adapters) can correlate their logs with the row.
type accountContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithAccount stores the account email being processed in the context.
func ContextWithAccount(ctx context.Context, email string) context.Context {
	if ctx == nil || email == "" {
		return ctx
	}
	return context.WithValue(ctx, accountContextKey{}, email)
}

// AccountFromContext retrieves the account email from the context, or an
// empty string when none is present.
func AccountFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(accountContextKey{}); v != nil {
		if email, ok := v.(string); ok {
			return email
		}
	}
	return ""
}
