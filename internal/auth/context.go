package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxScope ctxKey = iota

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxScope, s)
}

func ScopeFrom(ctx context.Context) (Scope, error) {
	if s, ok := ctx.Value(ctxScope).(Scope); ok && s.Kind != "" {
		return s, nil
	}
	return Scope{}, errors.New("scope not in context")
}
