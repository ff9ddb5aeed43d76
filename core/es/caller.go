package es

import (
	"context"
	"log/slog"
)

// Caller identifies who issued an operation. All fields are optional. The
// store only reads it: tenant and correlation fields are stamped onto new
// records and the tenant scopes cross-aggregate reads.
type Caller struct {
	TenantID       string `json:"tenant_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	CausationID    string `json:"causation_id,omitempty"`
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or the zero Caller.
func CallerFrom(ctx context.Context) Caller {
	if ctx == nil {
		return Caller{}
	}
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

func (c Caller) logAttrs() slog.Attr {
	return slog.Group(
		"caller",
		slog.String("tenant", c.TenantID),
		slog.String("user", c.UserID),
		slog.String("request", c.RequestID),
		slog.String("correlation", c.CorrelationID),
	)
}
