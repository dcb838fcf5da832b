package csrf

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// KeySize is the minimum length of the private jar key.
	KeySize = 32

	hostPrefix = "__Host-"
)

// Config is the immutable CSRF cookie policy. The With* methods return a
// modified copy and never touch the receiver, so a Config can be shared by
// every request without synchronization.
type Config struct {
	// Cookie
	CookieName   string
	CookiePath   string
	CookieDomain string
	Lifespan     time.Duration // zero means a session cookie
	SameSite     http.SameSite
	Secure       bool
	HTTPOnly     bool
	PrefixHost   bool // prepend "__Host-" to the cookie name

	// Entropy
	SecretLength int

	// Key enables the private (encrypted) cookie jar when non-empty.
	Key []byte
	// Salt keys the HMAC that derives authenticity tokens.
	Salt []byte
}

// DefaultConfig returns the secure-by-default policy. The key is taken as
// given: pass GenerateKey() output for a per-process key or a stored key to
// keep cookies valid across restarts. A nil key disables the private jar.
func DefaultConfig(key, salt []byte) Config {
	return Config{
		CookieName:   "Csrf_Token",
		CookiePath:   "/",
		Lifespan:     6 * time.Hour,
		SameSite:     http.SameSiteLaxMode,
		HTTPOnly:     true,
		SecretLength: 16,
		Key:          cloneBytes(key),
		Salt:         cloneBytes(salt),
	}
}

// GenerateKey returns a fresh random key suitable for Config.Key or Config.Salt.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// WithCookieName sets the cookie name, before any "__Host-" prefix.
//
// Params:
// - name: an RFC 6265 token; Validate rejects anything else.
//
// Returns:
// - a copy of c with the new name.
func (c Config) WithCookieName(name string) Config {
	c.CookieName = name
	return c
}

// WithCookiePath sets the cookie Path attribute. It is ignored for
// host-prefixed cookies, which always use "/".
func (c Config) WithCookiePath(path string) Config {
	c.CookiePath = path
	return c
}

// WithCookieDomain sets the cookie Domain attribute. Empty means host-only.
func (c Config) WithCookieDomain(domain string) Config {
	c.CookieDomain = domain
	return c
}

// WithLifespan sets the cookie lifetime. Zero produces a session cookie.
func (c Config) WithLifespan(d time.Duration) Config {
	c.Lifespan = d
	return c
}

// WithSameSite sets the SameSite attribute. SameSite=None requires Secure.
func (c Config) WithSameSite(mode http.SameSite) Config {
	c.SameSite = mode
	return c
}

// WithSecure sets the Secure attribute.
func (c Config) WithSecure(secure bool) Config {
	c.Secure = secure
	return c
}

// WithHTTPOnly sets the HttpOnly attribute.
func (c Config) WithHTTPOnly(httpOnly bool) Config {
	c.HTTPOnly = httpOnly
	return c
}

// WithHostPrefix toggles the "__Host-" name prefix. Browsers only accept
// such cookies when they are Secure, so enabling the prefix also sets Secure.
func (c Config) WithHostPrefix(prefix bool) Config {
	c.PrefixHost = prefix
	if prefix {
		c.Secure = true
	}
	return c
}

// WithSecretLength sets the number of alphanumeric characters in a
// generated secret.
//
// Params:
// - n: secret length; must be positive.
//
// Returns:
// - a copy of c with the new length.
func (c Config) WithSecretLength(n int) Config {
	c.SecretLength = n
	return c
}

// WithKey sets the private jar key. A nil key switches to plaintext cookies.
// The key is copied.
func (c Config) WithKey(key []byte) Config {
	c.Key = cloneBytes(key)
	return c
}

// WithSalt sets the HMAC key used to derive authenticity tokens. Changing
// the salt invalidates every authenticity token already rendered. The salt
// is copied.
func (c Config) WithSalt(salt []byte) Config {
	c.Salt = cloneBytes(salt)
	return c
}

// Private reports whether cookie values are encrypted.
func (c Config) Private() bool {
	return len(c.Key) > 0
}

// CookieFullName returns the cookie name as sent on the wire.
func (c Config) CookieFullName() string {
	if c.PrefixHost {
		return hostPrefix + c.CookieName
	}
	return c.CookieName
}

// Validate checks the policy for defects that would break every request:
// an unusable salt or key, a cookie name, path or domain that cannot be
// serialized, and attribute combinations browsers refuse.
//
// Returns:
// - nil when the policy is usable; otherwise an error wrapping ErrSalt or
//   ErrInvalidConfig.
func (c Config) Validate() error {
	if len(c.Salt) == 0 {
		return fmt.Errorf("%w: salt is empty", ErrSalt)
	}
	if c.CookieName == "" {
		return fmt.Errorf("%w: cookie name is empty", ErrInvalidConfig)
	}
	if c.SecretLength <= 0 {
		return fmt.Errorf("%w: secret length must be positive, got %d", ErrInvalidConfig, c.SecretLength)
	}
	if err := c.newCookie("x", time.Now()).Valid(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Lifespan < 0 {
		return fmt.Errorf("%w: negative lifespan %s", ErrInvalidConfig, c.Lifespan)
	}
	if c.Private() && len(c.Key) < KeySize {
		return fmt.Errorf("%w: key has %d bytes, need at least %d", ErrInvalidConfig, len(c.Key), KeySize)
	}
	if c.PrefixHost && !c.Secure {
		return fmt.Errorf("%w: __Host- prefix requires Secure", ErrInvalidConfig)
	}
	if c.SameSite == http.SameSiteNoneMode && !c.Secure {
		return fmt.Errorf("%w: SameSite=None requires Secure", ErrInvalidConfig)
	}
	return nil
}

// newCookie builds the response cookie carrying value under the configured
// attributes. now anchors the expiration.
func (c Config) newCookie(value string, now time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.CookieFullName(),
		Value:    value,
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	}
	if c.PrefixHost {
		ck.Path = "/"
		ck.Domain = ""
	}
	if ck.Path == "" {
		ck.Path = "/"
	}
	if c.Lifespan > 0 {
		ck.Expires = now.Add(c.Lifespan).UTC()
		ck.MaxAge = int(c.Lifespan / time.Second)
	}
	return ck
}

// clone returns a copy of c that shares no memory with it.
func (c Config) clone() Config {
	c.Key = cloneBytes(c.Key)
	c.Salt = cloneBytes(c.Salt)
	return c
}

// String formats the policy with Key and Salt redacted.
func (c Config) String() string {
	return fmt.Sprintf("{CookieName:%s CookiePath:%s CookieDomain:%s Lifespan:%s SameSite:%d Secure:%t HTTPOnly:%t PrefixHost:%t SecretLength:%d Key:%s Salt:%s}",
		c.CookieName, c.CookiePath, c.CookieDomain, c.Lifespan, c.SameSite,
		c.Secure, c.HTTPOnly, c.PrefixHost, c.SecretLength,
		redact(c.Key), redact(c.Salt))
}

// GoString keeps %#v from printing key material.
func (c Config) GoString() string {
	return "csrf.Config" + c.String()
}

// LogValue implements slog.LogValuer with Key and Salt redacted.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cookie_name", c.CookieFullName()),
		slog.String("cookie_path", c.CookiePath),
		slog.String("cookie_domain", c.CookieDomain),
		slog.Duration("lifespan", c.Lifespan),
		slog.Int("same_site", int(c.SameSite)),
		slog.Bool("secure", c.Secure),
		slog.Bool("http_only", c.HTTPOnly),
		slog.Int("secret_length", c.SecretLength),
		slog.Bool("private", c.Private()),
		slog.String("key", redact(c.Key)),
		slog.String("salt", redact(c.Salt)),
	)
}

func redact(b []byte) string {
	if len(b) == 0 {
		return "none"
	}
	return "hidden"
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
