// Package apitoken issues and verifies the short-lived tokens that gate
// direct vendor proxy access from clients.
package apitoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	Issuer        = "studypal-api-service"
	TokenLifetime = 15 * time.Minute
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Limits carried inside the token so the client can self-throttle.
type Limits struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

type Claims struct {
	jwt.RegisteredClaims
	Permissions map[string]bool `json:"permissions"`
	Limits      Limits          `json:"limits"`
}

type Service struct {
	secret []byte
}

func NewService(secret []byte) *Service {
	return &Service{secret: secret}
}

// Issue signs a token for the user covering the standard provider set.
func (s *Service) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
			ID:        uuid.NewString(),
		},
		Permissions: map[string]bool{
			"deepseek": true,
			"openai":   true,
			"mistral":  true,
		},
		Limits: Limits{RequestsPerMinute: 10},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a token, returning its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Issuer != Issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
