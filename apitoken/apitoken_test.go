package apitoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService([]byte("test-secret"))
	token, err := svc.Issue("42")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.Issuer != Issuer {
		t.Errorf("issuer = %q", claims.Issuer)
	}
	if !claims.Permissions["deepseek"] || !claims.Permissions["openai"] || !claims.Permissions["mistral"] {
		t.Errorf("permissions = %v", claims.Permissions)
	}
	if claims.Limits.RequestsPerMinute != 10 {
		t.Errorf("rpm = %d", claims.Limits.RequestsPerMinute)
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 || ttl > TokenLifetime {
		t.Errorf("expiry out of range: %s", ttl)
	}
}

func TestVerify_TamperedToken(t *testing.T) {
	svc := NewService([]byte("test-secret"))
	token, err := svc.Issue("42")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := svc.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewService([]byte("secret-a")).Issue("42")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := NewService([]byte("secret-b")).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "42",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-30 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := NewService(secret).Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := NewService(secret).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
