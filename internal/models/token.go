package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims are the JWT claims issued after an allowed login or a
// completed step-up challenge.
type TokenClaims struct {
	Type     string `json:"type"` // "access" or "refresh"
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
