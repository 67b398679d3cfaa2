package http

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"panel-quiz-service/internal/domain"
)

var errInvalidToken = errors.New("invalid or expired token")

// Claims carry the caller identity: sub is the player id, name the display name.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for id.
func IssueToken(secret, issuer, id, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseIdentity validates an HS256 token and returns its identity.
func ParseIdentity(secret, tokenString string) (domain.Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return domain.Identity{}, errInvalidToken
	}
	id := strings.TrimSpace(claims.Subject)
	if !domain.ValidKey(id) {
		return domain.Identity{}, errInvalidToken
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = id
	}
	return domain.Identity{ID: id, Name: name}, nil
}
