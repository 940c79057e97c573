package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Validator checks HS256 bearer tokens handed along with the init handshake.
// Token issuance lives in the auth service; only verification happens here.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	return &Validator{secret: []byte(secret)}, nil
}

func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject missing")
	}
	return claims, nil
}
