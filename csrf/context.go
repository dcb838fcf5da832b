package csrf

import (
	"context"
	"net/http"
)

type ctxKey string

const tokenKey ctxKey = "csrf_token_ctx"

// contextWithToken returns a derived context that stores the given CSRF token.
func contextWithToken(ctx context.Context, tok *Token) context.Context {
	return context.WithValue(ctx, tokenKey, tok)
}

// TokenFromContext returns the Token stored by Protect, if present.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenKey).(*Token)
	return tok, ok && tok != nil
}

// FromRequest returns the Token for r. When Protect did not run there is no
// policy to extract under, and the result is a 500 Rejection.
func FromRequest(r *http.Request) (*Token, error) {
	if tok, ok := TokenFromContext(r.Context()); ok {
		return tok, nil
	}
	return nil, &Rejection{
		Status:  http.StatusInternalServerError,
		Message: "CSRF config not found",
		Err:     ErrNoConfig,
	}
}
