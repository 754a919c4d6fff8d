package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Decoder turns a raw bearer token into a Session.
//
// The resource service is the authority on its own tokens, so by default the
// claims are read without verifying the signature, and a token that is not a
// JWT is kept as an opaque credential with no claims. When a JWKS or a shared
// HS256 secret is configured the token must be a JWT with a valid signature.
type Decoder struct {
	JWKS   *keyfunc.JWKS
	Secret []byte

	parser *jwt.Parser
}

// NewDecoder creates a Decoder. Both jwks and secret may be nil.
func NewDecoder(jwks *keyfunc.JWKS, secret []byte) *Decoder {
	d := &Decoder{JWKS: jwks, Secret: secret}
	switch {
	case len(secret) > 0:
		d.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	case jwks != nil:
		d.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	default:
		d.parser = jwt.NewParser(jwt.WithoutClaimsValidation())
	}
	return d
}

// Verifying reports whether signatures are checked.
func (d *Decoder) Verifying() bool {
	return len(d.Secret) > 0 || d.JWKS != nil
}

// New builds a Session around token.
func (d *Decoder) New(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthenticated
	}
	claims := jwt.MapClaims{}
	var err error
	switch {
	case len(d.Secret) > 0:
		_, err = d.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return d.Secret, nil
		})
	case d.JWKS != nil:
		_, err = d.parser.ParseWithClaims(token, claims, d.JWKS.Keyfunc)
	default:
		if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
			// not a JWT, keep it as an opaque credential
			return Session{Token: token}, nil
		}
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Unix(), false) {
		return Session{}, ErrTokenExpired
	}

	s := Session{Token: token, Subject: subjectFromClaims(claims)}
	if exp, ok := claims["exp"].(float64); ok {
		s.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return s, nil
}

// subjectFromClaims picks the user identity. SimpleJWT tokens carry user_id,
// the other token services put the username in sub.
func subjectFromClaims(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	switch v := claims["user_id"].(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case string:
		return v
	}
	if name, ok := claims["username"].(string); ok {
		return name
	}
	return ""
}
