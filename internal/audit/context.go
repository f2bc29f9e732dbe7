package audit

import "context"

type contextKey string

const (
	ctxIPAddress contextKey = "audit_ip"
	ctxUserAgent contextKey = "audit_user_agent"
)

// WithRequestInfo attaches client IP and user agent to the context so
// events recorded deeper in the call stack carry them without threading
// extra parameters through every service.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxIPAddress, ip)
	return context.WithValue(ctx, ctxUserAgent, userAgent)
}

func requestInfoFromCtx(ctx context.Context) (ip, userAgent string) {
	if v, ok := ctx.Value(ctxIPAddress).(string); ok {
		ip = v
	}
	if v, ok := ctx.Value(ctxUserAgent).(string); ok {
		userAgent = v
	}
	return
}
