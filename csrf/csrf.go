package csrf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Methods that require CSRF protection
var unsafeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Extractor is the contract between the token core and a request pipeline:
// Extract runs once per request, Inject once per response that used the token.
type Extractor interface {
	Extract(h http.Header) (*Token, error)
	Inject(t *Token, h http.Header) error
}

var _ Extractor = (*Protector)(nil)

// Protector binds a validated Config to the net/http middleware.
type Protector struct {
	cfg           Config
	headerName    string
	formField     string
	enforceOrigin bool
	allowedOrigin string
	logger        *slog.Logger
	errorHandler  ErrorHandler
}

// New validates cfg and returns a Protector. Salt and key defects surface
// here rather than on the first request.
//
// Params:
// - cfg: cookie and token policy; copied, so later changes to its Key or
//   Salt do not reach the Protector.
// - opts: logger, header/form names, origin check and error handler.
//
// Returns:
// - a Protector ready to wrap handlers, or the Validate error.
func New(cfg Config, opts ...Option) (*Protector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Protector{
		cfg:          cfg.clone(),
		headerName:   "X-CSRF-Token",
		formField:    "authenticity_token",
		logger:       slog.New(slog.DiscardHandler),
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns a copy of the policy the Protector enforces. Changing the
// returned Key or Salt does not affect the Protector.
func (p *Protector) Config() Config {
	return p.cfg.clone()
}

// Extract implements Extractor.
func (p *Protector) Extract(h http.Header) (*Token, error) {
	tok, err := Extract(h, p.cfg)
	if err != nil {
		return nil, &Rejection{
			Status:  http.StatusInternalServerError,
			Message: "failed to generate CSRF secret",
			Err:     err,
		}
	}
	return tok, nil
}

// Inject implements Extractor. It adds at most one Set-Cookie header.
func (p *Protector) Inject(t *Token, h http.Header) error {
	if t == nil {
		return &Rejection{Status: http.StatusInternalServerError, Message: "CSRF config not found", Err: ErrNoConfig}
	}
	if err := t.WriteHeaders(h); err != nil {
		return &Rejection{Status: http.StatusInternalServerError, Message: "failed to set CSRF cookie", Err: err}
	}
	return nil
}

// Protect wraps the given next http.Handler and enforces CSRF protection.
//
// Behavior:
//   - Every request: extracts (or generates) the secret, attaches the
//     Set-Cookie header for a new secret and stores the Token in the request
//     context.
//   - Unsafe methods (POST/PUT/PATCH/DELETE): optionally validates
//     Origin/Referer, reads the authenticity token from header or form and
//     verifies it against the secret before calling next.
//
// Params:
// - next: downstream handler to be executed after CSRF checks pass.
//
// Returns:
// - An http.Handler that performs the CSRF logic before delegating to next.
func (p *Protector) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tok, err := p.Extract(r.Header)
		if err != nil {
			p.logger.ErrorContext(ctx, "csrf extract failed", slog.Any("error", err))
			p.errorHandler(w, r, err)
			return
		}
		if tok.IsNew() {
			p.logger.DebugContext(ctx, "csrf secret issued", slog.String("path", r.URL.Path))
		}

		// headers must be set before next writes the body
		if err := p.Inject(tok, w.Header()); err != nil {
			p.logger.ErrorContext(ctx, "csrf inject failed", slog.Any("error", err))
			p.errorHandler(w, r, err)
			return
		}

		r = r.WithContext(contextWithToken(ctx, tok))

		if !unsafeMethods[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		if p.enforceOrigin {
			if err := validateOriginOrReferer(r, p.allowedOrigin); err != nil {
				p.reject(w, r, err)
				return
			}
		}

		submitted := extractClientToken(r, p.headerName, p.formField)
		if submitted == "" {
			p.reject(w, r, ErrMissingToken)
			return
		}

		if err := tok.Verify(submitted); err != nil {
			p.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (p *Protector) reject(w http.ResponseWriter, r *http.Request, err error) {
	level := slog.LevelInfo
	if errors.Is(err, ErrVerify) || errors.Is(err, ErrBadOrigin) {
		level = slog.LevelWarn
	}
	p.logger.Log(r.Context(), level, "csrf request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	p.errorHandler(w, r, err)
}

// TokenHandler returns an HTTP handler that writes the authenticity token
// for the current request. SPAs use it to fetch a token for later requests.
// It must run behind Protect.
func (p *Protector) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := FromRequest(r)
		if err != nil {
			p.errorHandler(w, r, err)
			return
		}
		at, err := tok.AuthenticityToken()
		if err != nil {
			p.errorHandler(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(at))
	})
}

// AuthenticityToken returns the authenticity token for the request handled by
// Protect, for use in templates.
func AuthenticityToken(ctx context.Context) (string, error) {
	tok, ok := TokenFromContext(ctx)
	if !ok {
		return "", ErrNoConfig
	}
	return tok.AuthenticityToken()
}

// validateOriginOrReferer checks whether the request is same-site according to
// the allowed host policy. When allowed is empty, it falls back to r.Host.
// It prefers the Origin header; if empty, it falls back to Referer.
func validateOriginOrReferer(r *http.Request, allowed string) error {
	host := allowed
	if host == "" {
		host = r.Host
	}

	origin := r.Header.Get("Origin")
	ref := r.Header.Get("Referer")

	switch {
	case origin == "" && ref == "":
		return fmt.Errorf("%w: no origin/referer", ErrBadOrigin)
	case origin != "" && !sameSite(origin, host):
		return fmt.Errorf("%w: bad origin", ErrBadOrigin)
	case origin == "" && !sameSite(ref, host):
		return fmt.Errorf("%w: bad referer", ErrBadOrigin)
	}
	return nil
}
