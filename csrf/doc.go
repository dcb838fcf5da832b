// Package csrf provides CSRF protection for Go net/http servers using the
// double-submit cookie pattern with derived authenticity tokens.
//
// How it works
//   - A random alphanumeric secret lives in a cookie. When a Key is
//     configured the cookie value is sealed with XChaCha20-Poly1305 (a
//     "private" cookie), otherwise it is sent in plaintext.
//   - Pages embed an authenticity token, base64(HMAC-SHA256(salt, secret)),
//     never the secret itself.
//   - Unsafe methods (POST, PUT, PATCH, DELETE) must send the authenticity
//     token in a header or form field. It is recomputed from the cookie's
//     secret and compared in constant time.
//   - A missing, tampered or undecryptable cookie never fails the request:
//     a fresh secret is issued instead.
//
// # Configuration
//
// All policy lives in Config, an immutable value. DefaultConfig gives
// secure defaults (HttpOnly, SameSite=Lax, 6h lifespan, 16-character secret)
// and the With* methods return modified copies. LoadConfig reads CSRF_*
// environment variables.
//
// Typical usage
//
//	key, _ := csrf.GenerateKey()
//	p, err := csrf.New(csrf.DefaultConfig(key, salt), csrf.WithOriginCheck(""))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", p.Protect(appMux))
//
// In handlers, render the authenticity token into forms:
//
//	at, err := csrf.AuthenticityToken(r.Context())
//
// Frameworks with their own request pipeline can skip Protect and drive
// the Extractor methods directly: Extract once per request, then Inject
// before the response headers are written.
package csrf
