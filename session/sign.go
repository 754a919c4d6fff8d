package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Sign returns an HS256 token for subject that a Decoder configured with the
// same secret accepts. It is meant for local runs against a TOKEN_SECRET.
func Sign(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret must be set")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
