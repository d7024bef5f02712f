package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AuthService issues and verifies the signed JWTs used to authenticate API
// requests. The subject claim carries the user ID.
type AuthService struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates an AuthService. ttl is the lifetime of issued
// tokens; it has no effect on verification of tokens issued elsewhere.
func NewAuthService(secret string, ttl time.Duration) *AuthService {
	return &AuthService{secret: []byte(secret), ttl: ttl}
}

// IssueToken mints a signed JWT for userID.
func (s *AuthService) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("service.IssueToken: user id is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("service.IssueToken: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT and returns the user ID carried in its
// subject claim.
func (s *AuthService) VerifyToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("service.VerifyToken: token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("service.VerifyToken: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("service.VerifyToken: invalid token")
	}
	return claims.Subject, nil
}
