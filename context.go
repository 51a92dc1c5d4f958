package sentra

import "context"

type originContextKey struct{}
type userAgentContextKey struct{}

// WithOrigin annotates ctx with the caller's network origin (an IP or any
// stable string identifying where the request came from). The guard and
// session fingerprints key on it.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originContextKey{}, origin)
}

// WithUserAgent annotates ctx with the caller's user-agent string, folded
// into the session fingerprint.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	if userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func originFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originContextKey{}).(string); ok {
		return v
	}
	return ""
}

func userAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentContextKey{}).(string); ok {
		return v
	}
	return ""
}
