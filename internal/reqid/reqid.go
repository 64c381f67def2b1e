// Package reqid carries the per-request correlation id through a context
// so handlers and the access log can tag their output with it.
package reqid

import "context"

type key struct{}

// With attaches id to ctx. A nil ctx is promoted to context.Background.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// From reports the id attached to ctx. The second result is false when no
// non-empty id is present.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key{}).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
