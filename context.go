package notary

import (
	"context"
)

type contextKey struct{}

var (
	// nymContextKey is the context key for the authenticated nym.
	nymContextKey = contextKey{}
)

func WithNym(ctx context.Context, nym *Nym) context.Context {
	return context.WithValue(ctx, nymContextKey, nym)
}

func NymFrom(ctx context.Context) (*Nym, bool) {
	nym, ok := ctx.Value(nymContextKey).(*Nym)
	return nym, ok
}
