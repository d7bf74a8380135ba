// Package identity wraps the platform's identity service. The messaging
// core never authenticates users itself; it only verifies the token the
// platform issued at login.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/wfplatform/chat-service/internal/errs"
)

const userIdClaim = "user-id"

type Verifier interface {
	// VerifyToken returns the user id the token asserts, or an
	// Unauthenticated error.
	VerifyToken(token string) (int64, error)
}

// JWTVerifier validates HMAC-signed platform tokens.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) VerifyToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return 0, errs.Wrap(err, errs.KindUnauthenticated, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errs.New(errs.KindUnauthenticated, "invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, errs.New(errs.KindUnauthenticated, "invalid user id claim")
	}

	return int64(userId), nil
}

// MintToken issues a token for the given user. Used by tooling and
// tests; production tokens come from the identity service.
func MintToken(signingKey []byte, userId int64, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		"exp":       time.Now().Add(ttl).Unix(),
	})

	return token.SignedString(signingKey)
}
