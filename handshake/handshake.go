package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/risa-org/chatlink/codec"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/session"
)

// LoginRequest is what the client sends when opening a session.
type LoginRequest struct {
	Author      string // display name the credential will be bound to
	Secret      string // shared secret, empty when the endpoint is open
	RequestedAt time.Time
}

// LoginResult is what the handshake returns after processing a request.
// Either a credential is issued, or the login is rejected with a reason.
type LoginResult struct {
	Accepted   bool
	Credential string // populated on success
	Reason     string // populated on rejection, empty on success
}

// Rejection reasons. These go back to the client verbatim and feed the
// server's request metrics.
const (
	ReasonEmptyAuthor = "empty_author"
	ReasonBadSecret   = "bad_secret"
	ReasonIssueFailed = "issue_failed"
)

// ErrRejected is returned by Login when the endpoint refused the login.
var ErrRejected = errors.New("login rejected")

// Handler processes logins and checks the credentials it issued.
// It holds the issuer and the shared secret but nothing else: stateless
// per request.
type Handler struct {
	issuer *session.TokenIssuer
	secret string
}

// NewHandler creates a handler that signs credentials with issuer.
// When secret is non-empty every login must present it.
func NewHandler(issuer *session.TokenIssuer, secret string) *Handler {
	return &Handler{issuer: issuer, secret: secret}
}

// Login processes one login attempt.
//
// Steps:
//  1. Author must be non-empty after trimming
//  2. Secret must match when the endpoint has one
//  3. Issue a credential bound to the author
func (h *Handler) Login(req LoginRequest) LoginResult {
	author := message.NormalizeAuthor(req.Author)
	if author == "" {
		return reject(ReasonEmptyAuthor)
	}

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(h.secret), []byte(req.Secret)) != 1 {
		return reject(ReasonBadSecret)
	}

	cred, err := h.issuer.Issue(author)
	if err != nil {
		return reject(ReasonIssueFailed)
	}

	return LoginResult{Accepted: true, Credential: cred}
}

// Verify checks that credential was issued by this handler to author.
func (h *Handler) Verify(author, credential string) error {
	return h.issuer.Verify(message.NormalizeAuthor(author), credential)
}

// reject is a helper to build a clean rejection result with a reason.
func reject(reason string) LoginResult {
	return LoginResult{
		Accepted: false,
		Reason:   reason,
	}
}

// Login runs the client side of the handshake over h and returns the
// credential to attach to every later request.
func Login(ctx context.Context, h *session.Handle, author, secret string) (string, error) {
	payload, err := codec.EncodeLogin(author, secret)
	if err != nil {
		return "", err
	}

	reply, err := h.Exchange(ctx, message.NewRequestID(), payload)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	cred, err := codec.DecodeLoginOK(reply)
	if err != nil {
		var remote *codec.RemoteError
		if errors.As(err, &remote) {
			return "", fmt.Errorf("%w: %s", ErrRejected, remote.Reason)
		}
		return "", fmt.Errorf("login: %w", err)
	}
	return cred, nil
}
