package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
)

const (
	// CSRFSessionKey is the session key holding the per-session secret.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token for fetch/XHR requests.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies CSRF tokens bound to a session. The session
// keeps one secret; every rendered form gets a freshly masked copy so that
// compressed responses never repeat the same token bytes.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken creates the session secret when missing and returns a masked
// token for it.
func (m *CSRFManager) EnsureToken(ctx context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", ErrSessionMissing
	}
	secret := sess.Get(CSRFSessionKey)
	if secret == "" {
		var err error
		if secret, err = m.newSecret(sess.ID); err != nil {
			return "", err
		}
		sess.Set(CSRFSessionKey, secret)
	}
	return mask(secret)
}

// VerifyToken accepts a masked token or the raw session secret.
func (m *CSRFManager) VerifyToken(ctx context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	secret := sess.Get(CSRFSessionKey)
	if secret == "" {
		return ErrCSRFTokenMissing
	}
	if hmac.Equal([]byte(secret), []byte(token)) {
		return nil
	}
	if plain, ok := unmask(token, len(secret)); ok && hmac.Equal([]byte(secret), plain) {
		return nil
	}
	return ErrCSRFTokenMismatch
}

// TokenFromRequest reads the token from the form field or the header.
func TokenFromRequest(r *http.Request) string {
	if token := r.PostFormValue(CSRFFormField); token != "" {
		return token
	}
	return r.Header.Get(CSRFHeader)
}

func (m *CSRFManager) newSecret(sessionID string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write(nonce)
	return base64.RawURLEncoding.EncodeToString(append(nonce, mac.Sum(nil)...)), nil
}

// mask encodes pad || (secret XOR pad).
func mask(secret string) (string, error) {
	pad := make([]byte, len(secret))
	if _, err := rand.Read(pad); err != nil {
		return "", err
	}
	out := make([]byte, 2*len(secret))
	copy(out, pad)
	for i := range secret {
		out[len(secret)+i] = secret[i] ^ pad[i]
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func unmask(token string, secretLen int) ([]byte, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || secretLen == 0 || len(raw) != 2*secretLen {
		return nil, false
	}
	plain := make([]byte, secretLen)
	for i := range plain {
		plain[i] = raw[secretLen+i] ^ raw[i]
	}
	return plain, true
}
