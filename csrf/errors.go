package csrf

import (
	"errors"
	"net/http"
)

var (
	// ErrSalt means the HMAC key material is unusable. It is a configuration
	// defect and New reports it at startup.
	ErrSalt = errors.New("csrf: invalid salt")
	// ErrMalformedToken means the submitted authenticity token could not be decoded.
	ErrMalformedToken = errors.New("csrf: malformed authenticity token")
	// ErrVerify means a well-formed authenticity token did not match the secret.
	ErrVerify = errors.New("csrf: verification failed")
	// ErrMissingToken means an unsafe request carried no authenticity token.
	ErrMissingToken = errors.New("csrf: missing authenticity token")
	// ErrBadOrigin means the Origin/Referer check rejected the request.
	ErrBadOrigin = errors.New("csrf: invalid origin")
	// ErrInvalidConfig means the policy cannot be used.
	ErrInvalidConfig = errors.New("csrf: invalid config")
	// ErrNoConfig means no token was extracted for the request, usually
	// because the Protect middleware is not installed on the route.
	ErrNoConfig = errors.New("csrf: config not found")
)

// Rejection is an extraction failure expressed as an HTTP status and message.
type Rejection struct {
	Status  int
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// statusFor maps a token error to the response status the middleware sends.
func statusFor(err error) int {
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
		return rej.Status
	case errors.Is(err, ErrSalt), errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrNoConfig):
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}
