package core

import (
	"context"
	"strings"
)

type contextKey string

const ctxKeyRequester contextKey = "requester"

// Requester identifies who asked for an import run.
type Requester struct {
	IPAddress string
	UserAgent string
	KeyName   string // Name of the API key used, if any
}

// String renders the requester for logs and run summaries.
func (r Requester) String() string {
	var parts []string
	if r.KeyName != "" {
		parts = append(parts, "key:"+r.KeyName)
	}
	if r.IPAddress != "" {
		parts = append(parts, r.IPAddress)
	}
	if r.UserAgent != "" {
		parts = append(parts, "("+r.UserAgent+")")
	}
	return strings.Join(parts, " ")
}

// ContextWithRequester attaches the requester to ctx.
func ContextWithRequester(ctx context.Context, r Requester) context.Context {
	return context.WithValue(ctx, ctxKeyRequester, r)
}

// RequesterFromContext returns the requester attached to ctx, or the zero
// Requester.
func RequesterFromContext(ctx context.Context) Requester {
	r, _ := ctx.Value(ctxKeyRequester).(Requester)
	return r
}

const ctxKeyOrganization contextKey = "organization"

// ContextWithOrganization scopes storage calls made with ctx to an
// organization. Import runs attach their OrganizationID this way.
func ContextWithOrganization(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, ctxKeyOrganization, orgID)
}

// OrganizationFromContext returns the organization attached to ctx, or "".
func OrganizationFromContext(ctx context.Context) string {
	org, _ := ctx.Value(ctxKeyOrganization).(string)
	return org
}
