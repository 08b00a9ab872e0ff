package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	OwnerID string `json:"owner_id"`
	Role    string `json:"role"` // "owner" или "admin"
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
