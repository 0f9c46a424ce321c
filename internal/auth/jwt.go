package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims minted by the platform auth service. This
// service only verifies them; it never issues tokens.
type AccessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier validates access tokens against the shared HMAC secret.
type Verifier struct {
	accessSecret []byte
}

// NewVerifier creates a token Verifier.
func NewVerifier(accessSecret string) *Verifier {
	return &Verifier{accessSecret: []byte(accessSecret)}
}

// VerifyAccessToken parses and validates an access token, returning its
// claims.
func (v *Verifier) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.accessSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}

	return claims, nil
}
