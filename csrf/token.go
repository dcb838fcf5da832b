package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Token is the per-request CSRF state: the secret carried by the cookie plus
// the policy it was extracted under. A Token belongs to one request and is
// not safe for concurrent use.
type Token struct {
	secret  string
	cfg     Config
	fresh   bool
	written bool
}

// Extract reads the secret cookie from the request headers, generating a new
// secret when the cookie is missing, undecryptable, or malformed.
//
// Params:
// - h: incoming request headers; every Cookie value is read.
// - cfg: policy to extract under. It is not validated here.
//
// Returns:
// - the Token, marked new when its secret was generated; an error wrapping
//   ErrInvalidConfig for a non-positive SecretLength, or a random-source
//   failure.
func Extract(h http.Header, cfg Config) (*Token, error) {
	jar := ParseJar(h.Values("Cookie"))
	if secret, ok := jar.Get(cfg.CookieFullName(), cfg.Key); ok && validSecret(secret, cfg.SecretLength) {
		return &Token{secret: secret, cfg: cfg}, nil
	}
	secret, err := newSecret(cfg.SecretLength)
	if err != nil {
		return nil, err
	}
	return &Token{secret: secret, cfg: cfg, fresh: true}, nil
}

// Secret returns the raw secret. It must never be rendered into pages.
func (t *Token) Secret() string {
	return t.secret
}

// IsNew reports whether the secret was generated for this request and still
// needs a Set-Cookie.
func (t *Token) IsNew() bool {
	return t.fresh
}

// Config returns a copy of the policy the token was extracted under.
func (t *Token) Config() Config {
	return t.cfg.clone()
}

// AuthenticityToken returns base64(HMAC-SHA256(salt, secret)), the value to
// embed in forms and response bodies. The result is deterministic for a
// given secret and salt.
func (t *Token) AuthenticityToken() (string, error) {
	mac, err := t.mac()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac), nil
}

// Verify checks a submitted authenticity token against the secret.
//
// Params:
// - submitted: the decoded form or header value sent by the client.
//
// Returns:
// - nil on a match; ErrMalformedToken when submitted is not valid base64;
//   ErrVerify when it decodes but does not match; ErrSalt without a salt.
func (t *Token) Verify(submitted string) error {
	got, err := base64.StdEncoding.DecodeString(submitted)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	want, err := t.mac()
	if err != nil {
		return err
	}
	if !hmac.Equal(got, want) {
		return ErrVerify
	}
	return nil
}

func (t *Token) mac() ([]byte, error) {
	if len(t.cfg.Salt) == 0 {
		return nil, ErrSalt
	}
	m := hmac.New(sha256.New, t.cfg.Salt)
	m.Write([]byte(t.secret))
	return m.Sum(nil), nil
}

// Cookie returns the cookie that carries the secret, with plaintext value.
func (t *Token) Cookie(now time.Time) *http.Cookie {
	return t.cfg.newCookie(t.secret, now)
}

// WriteHeaders appends the Set-Cookie header for a freshly generated secret.
// It writes nothing when the secret came from a valid cookie, and nothing on
// any call after the first.
func (t *Token) WriteHeaders(h http.Header) error {
	if t.written || !t.fresh {
		return nil
	}
	jar := ParseJar(nil)
	if err := jar.Set(t.Cookie(time.Now()), t.cfg.Key); err != nil {
		return err
	}
	for _, v := range jar.Delta() {
		h.Add("Set-Cookie", v)
	}
	t.written = true
	return nil
}

// newSecret draws n alphanumeric characters from crypto/rand, rejecting
// bytes that would bias the distribution.
func newSecret(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: secret length must be positive, got %d", ErrInvalidConfig, n)
	}
	const limit = 256 - 256%len(alphanumeric)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4+1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func validSecret(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphanumeric, s[i]) < 0 {
			return false
		}
	}
	return true
}

// extractClientToken returns the submitted authenticity token. The header
// wins over the form field.
func extractClientToken(r *http.Request, headerName, formField string) string {
	if h := r.Header.Get(headerName); h != "" {
		return h
	}
	if formField == "" {
		return ""
	}
	_ = r.ParseForm()
	return r.PostForm.Get(formField)
}

// sameSite reports whether originOrRef points at allowedHost.
func sameSite(originOrRef, allowedHost string) bool {
	u, err := url.Parse(originOrRef)
	if err != nil {
		return false
	}
	// host only, port included
	return strings.EqualFold(u.Host, allowedHost)
}
