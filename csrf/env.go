package csrf

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig is the environment form of Config. Key and Salt are base64
// (standard or URL alphabet, padding optional).
type EnvConfig struct {
	CookieName   string        `env:"CSRF_COOKIE_NAME" envDefault:"Csrf_Token"`
	CookiePath   string        `env:"CSRF_COOKIE_PATH" envDefault:"/"`
	CookieDomain string        `env:"CSRF_COOKIE_DOMAIN" envDefault:""`
	Lifespan     time.Duration `env:"CSRF_LIFESPAN" envDefault:"6h"`
	SameSite     string        `env:"CSRF_SAME_SITE" envDefault:"lax"`
	Secure       bool          `env:"CSRF_SECURE" envDefault:"false"`
	HTTPOnly     bool          `env:"CSRF_HTTP_ONLY" envDefault:"true"`
	PrefixHost   bool          `env:"CSRF_HOST_PREFIX" envDefault:"false"`
	SecretLength int           `env:"CSRF_SECRET_LENGTH" envDefault:"16"`
	Key          string        `env:"CSRF_KEY" envDefault:""`
	Salt         string        `env:"CSRF_SALT,required,notEmpty"`
}

// LoadConfig parses CSRF_* environment variables into a validated Config.
func LoadConfig() (Config, error) {
	var ec EnvConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return ec.Config()
}

// Config converts the environment form into a validated Config.
func (ec EnvConfig) Config() (Config, error) {
	mode, err := parseSameSite(ec.SameSite)
	if err != nil {
		return Config{}, err
	}
	key, err := decodeKey(ec.Key)
	if err != nil {
		return Config{}, fmt.Errorf("%w: CSRF_KEY: %w", ErrInvalidConfig, err)
	}
	salt, err := decodeKey(ec.Salt)
	if err != nil {
		return Config{}, fmt.Errorf("%w: CSRF_SALT: %w", ErrSalt, err)
	}

	cfg := Config{
		CookieName:   ec.CookieName,
		CookiePath:   ec.CookiePath,
		CookieDomain: ec.CookieDomain,
		Lifespan:     ec.Lifespan,
		SameSite:     mode,
		Secure:       ec.Secure,
		HTTPOnly:     ec.HTTPOnly,
		PrefixHost:   ec.PrefixHost,
		SecretLength: ec.SecretLength,
		Key:          key,
		Salt:         salt,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unknown SameSite %q", ErrInvalidConfig, s)
	}
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}
