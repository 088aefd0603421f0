package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки операторского токена.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

// Типизированные ключи контекста (избегаем коллизий со строками)
type ctxKey string

const (
	ctxKeyScopes ctxKey = "operator_scopes"
	ctxKeyUserID ctxKey = "operator_id"
)

// NewMiddleware закрывает группу роутов требованием валидного RS256-токена.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFromContext достает права оператора в хендлере.
func ScopesFromContext(ctx context.Context) map[string]bool {
	if scopes, ok := ctx.Value(ctxKeyScopes).(map[string]bool); ok {
		return scopes
	}
	return nil
}

// OperatorFromContext достает ID оператора (для подотчетности).
func OperatorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return id
	}
	return ""
}
