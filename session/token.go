package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid credential")

// TokenIssuer generates and verifies HMAC-signed session credentials.
// The secret key never leaves the server; clients only ever see the token
// and hand it back, unchanged, on every request.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer with the given secret key.
// The secret should be at least 32 bytes of random data.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// NewRandomTokenIssuer generates a fresh random secret key.
// If the process restarts every outstanding credential becomes invalid,
// and clients simply log in again.
func NewRandomTokenIssuer() (*TokenIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &TokenIssuer{secret: secret}, nil
}

// Issue generates a credential for author.
// Credential = hex(nonce) + "." + hex(HMAC-SHA256(secret, author || 0x00 || nonce))
// The nonce makes every login produce a distinct credential.
func (t *TokenIssuer) Issue(author string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	n := hex.EncodeToString(nonce)
	return n + "." + t.sign(author, n), nil
}

// Verify checks whether credential was issued to author by this issuer.
// Uses constant-time comparison to prevent timing attacks.
func (t *TokenIssuer) Verify(author, credential string) error {
	nonce, mac, ok := strings.Cut(credential, ".")
	if !ok || nonce == "" {
		return ErrInvalidToken
	}

	expected := t.sign(author, nonce)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func (t *TokenIssuer) sign(author, nonce string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(author))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
