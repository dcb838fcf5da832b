package csrf

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// privateJarInfo gives the private jar its own key, separate from any other
// use of the configured key material.
const privateJarInfo = "csrf-private-jar-v1"

var errEnvelope = errors.New("csrf: invalid cookie envelope")

// Jar is the per-request cookie set. It keeps the cookies the client sent
// (the original snapshot) apart from cookies added while handling the
// request, so Delta can emit only what changed.
type Jar struct {
	original map[string]string
	working  map[string]*http.Cookie
	order    []string
}

// ParseJar builds a Jar from raw Cookie header values. Each value is split on
// ';' and every segment parsed on its own; malformed segments are skipped.
// When a name repeats, the first occurrence wins.
func ParseJar(values []string) *Jar {
	j := &Jar{
		original: make(map[string]string),
		working:  make(map[string]*http.Cookie),
	}
	for _, v := range values {
		for _, seg := range strings.Split(v, ";") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			parsed, err := http.ParseCookie(seg)
			if err != nil || len(parsed) != 1 {
				continue
			}
			if _, dup := j.original[parsed[0].Name]; dup {
				continue
			}
			j.original[parsed[0].Name] = parsed[0].Value
		}
	}
	return j
}

// Get returns the value of the named cookie. With a key, the stored value is
// opened as a private envelope and any failure reads as "not found".
func (j *Jar) Get(name string, key []byte) (string, bool) {
	raw, ok := j.raw(name)
	if !ok {
		return "", false
	}
	if len(key) == 0 {
		return raw, true
	}
	plain, err := openValue(key, name, raw)
	if err != nil {
		return "", false
	}
	return plain, true
}

func (j *Jar) raw(name string) (string, bool) {
	if c, ok := j.working[name]; ok {
		return c.Value, true
	}
	v, ok := j.original[name]
	return v, ok
}

// Set stores c in the working snapshot, sealing its value when key is set.
// The caller's cookie is not modified.
func (j *Jar) Set(c *http.Cookie, key []byte) error {
	ck := *c
	if len(key) > 0 {
		sealed, err := sealValue(key, ck.Name, ck.Value)
		if err != nil {
			return err
		}
		ck.Value = sealed
	}
	if _, ok := j.working[ck.Name]; !ok {
		j.order = append(j.order, ck.Name)
	}
	j.working[ck.Name] = &ck
	return nil
}

// Delta returns Set-Cookie header values for cookies that are new or whose
// value differs from what the client sent.
func (j *Jar) Delta() []string {
	out := make([]string, 0, len(j.order))
	for _, name := range j.order {
		c := j.working[name]
		if orig, ok := j.original[name]; ok && orig == c.Value {
			continue
		}
		// String drops cookies with an invalid name
		if s := c.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func jarAEAD(key []byte) (cipher.AEAD, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(privateJarInfo))
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(derived)
}

// sealValue encrypts value with XChaCha20-Poly1305, binding the cookie name
// as associated data. The envelope is base64url(nonce || ciphertext).
func sealValue(key []byte, name, value string) (string, error) {
	aead, err := jarAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(name))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func openValue(key []byte, name, envelope string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(envelope)
	if err != nil {
		return "", errEnvelope
	}
	aead, err := jarAEAD(key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", errEnvelope
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(name))
	if err != nil {
		return "", errEnvelope
	}
	return string(plain), nil
}
