package downstream

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tickwatch/alertserver/internal/model"
)

// identityClaims is embedded in the bearer token the out-of-scope HTTP
// login collaborator (spec.md §6) issues a user after authenticating
// them. The /stream/{session_id} upgrade (spec.md §6) trusts the
// "user_id" query parameter only when it is backed by one of these —
// otherwise any caller could pass an arbitrary user_id and rehydrate
// someone else's Session from the durable snapshot.
type identityClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// TokenIssuer signs and verifies identity bearer tokens.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTokenIssuer(signingKey string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue mints a bearer token asserting userID's authenticated identity.
func (t *TokenIssuer) Issue(userID model.UserID) (string, error) {
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		},
		UserID: string(userID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", fmt.Errorf("downstream: sign identity token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer identity token, returning the
// authenticated user.
func (t *TokenIssuer) Verify(raw string) (model.UserID, error) {
	var claims identityClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("downstream: invalid identity token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("downstream: identity token not valid")
	}
	return model.UserID(claims.UserID), nil
}
