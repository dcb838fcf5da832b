package csrf_test

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeanGrijp/go-csrf-token/csrf"
)

func headerWithCookie(name, value string) http.Header {
	h := http.Header{}
	h.Set("Cookie", (&http.Cookie{Name: name, Value: value}).String())
	return h
}

func issued(t *testing.T, tok *csrf.Token) *http.Cookie {
	t.Helper()
	h := http.Header{}
	require.NoError(t, tok.WriteHeaders(h))
	values := h.Values("Set-Cookie")
	require.Len(t, values, 1)
	c, err := http.ParseSetCookie(values[0])
	require.NoError(t, err)
	return c
}

func TestAuthenticityTokenVerifies(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc"))

	for range 50 {
		tok, err := csrf.Extract(http.Header{}, cfg)
		require.NoError(t, err)

		at, err := tok.AuthenticityToken()
		require.NoError(t, err)
		assert.NotEqual(t, tok.Secret(), at)
		assert.NoError(t, tok.Verify(at))

		again, err := tok.AuthenticityToken()
		require.NoError(t, err)
		assert.Equal(t, at, again, "derivation must be deterministic")
	}
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	t.Parallel()
	tok, err := csrf.Extract(http.Header{}, csrf.DefaultConfig(nil, []byte("abc")))
	require.NoError(t, err)
	at, err := tok.AuthenticityToken()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(at)
	require.NoError(t, err)

	for i := range len(raw) * 8 {
		mutated := append([]byte(nil), raw...)
		mutated[i/8] ^= 1 << (i % 8)
		err := tok.Verify(base64.StdEncoding.EncodeToString(mutated))
		require.ErrorIs(t, err, csrf.ErrVerify, "bit %d", i)
	}
}

func TestVerifyErrors(t *testing.T) {
	t.Parallel()
	tok, err := csrf.Extract(http.Header{}, csrf.DefaultConfig(nil, []byte("abc")))
	require.NoError(t, err)

	tests := []struct {
		name      string
		submitted string
		want      error
	}{
		{"not base64", "%%%not-base64%%%", csrf.ErrMalformedToken},
		{"empty", "", csrf.ErrVerify},
		{"short digest", base64.StdEncoding.EncodeToString([]byte("short")), csrf.ErrVerify},
		{"raw secret", tok.Secret(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tok.Verify(tt.submitted)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			// the secret may happen to be valid base64; either way it must not verify
			assert.Error(t, err)
		})
	}
}

func TestTokenFromOtherSecretFails(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc")).WithLifespan(0)

	a, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	b, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	require.NotEqual(t, a.Secret(), b.Secret())

	bt, err := b.AuthenticityToken()
	require.NoError(t, err)
	assert.ErrorIs(t, a.Verify(bt), csrf.ErrVerify)
}

func TestDifferentSaltFails(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc"))
	tok, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	c := issued(t, tok)

	other, err := csrf.Extract(headerWithCookie(c.Name, c.Value), cfg.WithSalt([]byte("xyz")))
	require.NoError(t, err)
	require.Equal(t, tok.Secret(), other.Secret())

	at, err := tok.AuthenticityToken()
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(at), csrf.ErrVerify)
}

func TestEmptySaltFails(t *testing.T) {
	t.Parallel()
	tok, err := csrf.Extract(http.Header{}, csrf.DefaultConfig(nil, nil))
	require.NoError(t, err)

	_, err = tok.AuthenticityToken()
	assert.ErrorIs(t, err, csrf.ErrSalt)
	assert.ErrorIs(t, tok.Verify("AAAA"), csrf.ErrSalt)
}

func TestExtractWithoutCookieIssuesSessionCookie(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc")).WithSecretLength(16).WithLifespan(0)

	tok, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	assert.True(t, tok.IsNew())
	assert.Len(t, tok.Secret(), 16)

	h := http.Header{}
	require.NoError(t, tok.WriteHeaders(h))
	raw := h.Get("Set-Cookie")
	assert.NotContains(t, raw, "Expires=")
	assert.NotContains(t, raw, "Max-Age=")

	c, err := http.ParseSetCookie(raw)
	require.NoError(t, err)
	assert.Equal(t, "Csrf_Token", c.Name)
	assert.Len(t, c.Value, 16)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestExtractGarbledCookies(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc"))

	headers := []string{
		"garbage",
		";;;=;",
		"Csrf_Token=tooshort",
		"Csrf_Token=" + strings.Repeat("a", 17),
		"Csrf_Token=" + strings.Repeat("-", 16),
		`Csrf_Token="unterminated`,
	}
	for _, v := range headers {
		h := http.Header{}
		h.Set("Cookie", v)
		tok, err := csrf.Extract(h, cfg)
		require.NoError(t, err, v)
		assert.True(t, tok.IsNew(), v)
		assert.Len(t, tok.Secret(), cfg.SecretLength, v)
	}
}

func TestExtractRejectsNonPositiveSecretLength(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1, -1 << 20} {
		cfg := csrf.DefaultConfig(nil, []byte("abc")).WithSecretLength(n)
		require.NotPanics(t, func() {
			tok, err := csrf.Extract(http.Header{}, cfg)
			assert.ErrorIs(t, err, csrf.ErrInvalidConfig, "length %d", n)
			assert.Nil(t, tok)
		})
	}
}

func TestSecretAlphabet(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc")).WithSecretLength(256)
	tok, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	require.Len(t, tok.Secret(), 256)
	for _, r := range tok.Secret() {
		assert.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), "rune %q", r)
	}
}

func TestRoundTripPlain(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc"))
	first, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	c := issued(t, first)

	h := headerWithCookie(c.Name, c.Value)
	h.Add("Cookie", "other=1; theme=dark")
	second, err := csrf.Extract(h, cfg)
	require.NoError(t, err)
	assert.False(t, second.IsNew())
	assert.Equal(t, first.Secret(), second.Secret())

	out := http.Header{}
	require.NoError(t, second.WriteHeaders(out))
	assert.Empty(t, out.Values("Set-Cookie"))
}

func TestRoundTripPrivate(t *testing.T) {
	t.Parallel()
	key, err := csrf.GenerateKey()
	require.NoError(t, err)
	cfg := csrf.DefaultConfig(key, []byte("abc"))

	first, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	c := issued(t, first)
	assert.NotContains(t, c.Value, first.Secret())

	second, err := csrf.Extract(headerWithCookie(c.Name, c.Value), cfg)
	require.NoError(t, err)
	assert.False(t, second.IsNew())
	assert.Equal(t, first.Secret(), second.Secret())
}

func TestPrivateCookieWrongKeyIsAbsent(t *testing.T) {
	t.Parallel()
	k1, err := csrf.GenerateKey()
	require.NoError(t, err)
	k2, err := csrf.GenerateKey()
	require.NoError(t, err)

	first, err := csrf.Extract(http.Header{}, csrf.DefaultConfig(k1, []byte("abc")))
	require.NoError(t, err)
	c := issued(t, first)

	second, err := csrf.Extract(headerWithCookie(c.Name, c.Value), csrf.DefaultConfig(k2, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, second.IsNew())
	assert.NotEqual(t, first.Secret(), second.Secret())
}

func TestPlainCookieRejectedInPrivateMode(t *testing.T) {
	t.Parallel()
	key, err := csrf.GenerateKey()
	require.NoError(t, err)

	h := headerWithCookie("Csrf_Token", strings.Repeat("a", 16))
	tok, err := csrf.Extract(h, csrf.DefaultConfig(key, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, tok.IsNew())
}

func TestWriteHeadersIsIdempotent(t *testing.T) {
	t.Parallel()
	tok, err := csrf.Extract(http.Header{}, csrf.DefaultConfig(nil, []byte("abc")))
	require.NoError(t, err)

	h := http.Header{}
	require.NoError(t, tok.WriteHeaders(h))
	require.NoError(t, tok.WriteHeaders(h))
	assert.Len(t, h.Values("Set-Cookie"), 1)
}

func TestHostPrefixedCookie(t *testing.T) {
	t.Parallel()
	cfg := csrf.DefaultConfig(nil, []byte("abc")).
		WithCookieDomain("example.com").
		WithCookiePath("/app").
		WithHostPrefix(true)

	tok, err := csrf.Extract(http.Header{}, cfg)
	require.NoError(t, err)
	c := issued(t, tok)
	assert.Equal(t, "__Host-Csrf_Token", c.Name)
	assert.True(t, c.Secure)
	assert.Equal(t, "/", c.Path)
	assert.Empty(t, c.Domain)

	again, err := csrf.Extract(headerWithCookie(c.Name, c.Value), cfg)
	require.NoError(t, err)
	assert.Equal(t, tok.Secret(), again.Secret())
}

func TestProtectorExtractor(t *testing.T) {
	t.Parallel()
	p, err := csrf.New(csrf.DefaultConfig(nil, []byte("abc")))
	require.NoError(t, err)

	var x csrf.Extractor = p
	tok, err := x.Extract(http.Header{})
	require.NoError(t, err)

	h := http.Header{}
	require.NoError(t, x.Inject(tok, h))
	require.NoError(t, x.Inject(tok, h))
	assert.Len(t, h.Values("Set-Cookie"), 1)

	err = x.Inject(nil, h)
	var rej *csrf.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusInternalServerError, rej.Status)
	assert.ErrorIs(t, err, csrf.ErrNoConfig)
}
