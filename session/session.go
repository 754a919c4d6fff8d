// Package session holds the credential of a signed-in dashboard user and the
// identity derived from it.
package session

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
	ErrUnauthenticated      = errors.New("session is not authenticated")
)

const bearerPrefix = "Bearer "

// Session is the bearer token obtained at login together with what could be
// read from its claims. A Session is created at login and destroyed at logout;
// it is passed explicitly to every resource call.
type Session struct {
	ID        string    `json:"id,omitempty"`
	Token     string    `json:"token"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Expired reports whether the token's exp claim lies before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authorize attaches the bearer credential to outgoing request headers.
func (s Session) Authorize(h http.Header) error {
	if !s.Authenticated() {
		return ErrUnauthenticated
	}
	h.Set("Authorization", bearerPrefix+s.Token)
	return nil
}

// BearerFromHeader extracts the token from an Authorization header value. The
// token itself is opaque here; its shape is only checked by a verifying Decoder.
func BearerFromHeader(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingAuthorization
	}
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(raw, bearerPrefix) {
		return "", ErrBadAuthorization
	}
	token := strings.TrimSpace(raw[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrBadAuthorization
	}
	return token, nil
}
