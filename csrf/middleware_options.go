package csrf

import (
	"errors"
	"log/slog"
	"net/http"
)

// Option configures a Protector.
type Option func(*Protector)

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// WithLogger sets the structured logger. Rejections are logged at Warn when
// they look like forgery attempts.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protector) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHeaderName sets the request header carrying the authenticity token.
func WithHeaderName(name string) Option {
	return func(p *Protector) {
		if name != "" {
			p.headerName = name
		}
	}
}

// WithFormField sets the form field carrying the authenticity token.
func WithFormField(field string) Option {
	return func(p *Protector) {
		p.formField = field
	}
}

// WithOriginCheck enables Origin/Referer validation on unsafe methods.
// An empty allowed host means the request's own Host.
func WithOriginCheck(allowed string) Option {
	return func(p *Protector) {
		p.enforceOrigin = true
		p.allowedOrigin = allowed
	}
}

// WithErrorHandler replaces the response written for rejected requests.
// The handler receives the sentinel error (ErrVerify, ErrMissingToken, ...)
// or a *Rejection; a nil handler is ignored.
func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Protector) {
		if h != nil {
			p.errorHandler = h
		}
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
		http.Error(w, rej.Message, rej.Status)
	case errors.Is(err, ErrMissingToken):
		http.Error(w, "missing CSRF token", http.StatusForbidden)
	case errors.Is(err, ErrBadOrigin):
		http.Error(w, "invalid origin", http.StatusForbidden)
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrVerify):
		http.Error(w, "bad CSRF token", http.StatusForbidden)
	default:
		http.Error(w, http.StatusText(statusFor(err)), statusFor(err))
	}
}
