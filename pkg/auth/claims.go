package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims is the JWT payload carried on every authenticated request.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"uid"`
	jwt.RegisteredClaims
}

// AccessTokenPayload describes a token to be minted.
type AccessTokenPayload struct {
	UserID uuid.UUID
	JTI    string
}
