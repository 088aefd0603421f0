package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims — клеймы RS256-токена оператора консоли ядра.
type OperatorClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "audit.read": true
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator — человек за консолью. Не путать с агентом: операторы
// управляют ядром, агенты управляются ядром.
type Operator struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
