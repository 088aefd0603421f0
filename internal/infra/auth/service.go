package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// OperatorProvider описывает требования к хранилищу операторов.
type OperatorProvider interface {
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// Service выпускает операторские RS256-токены.
type Service struct {
	*BaseValidator
	repo       OperatorProvider
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
}

func NewService(repo OperatorProvider, privateKey *rsa.PrivateKey, pubKey *rsa.PublicKey, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		BaseValidator: NewBaseValidator(pubKey),
		repo:          repo,
		privateKey:    privateKey,
		tokenTTL:      ttl,
	}
}

// GenerateToken аутентифицирует оператора и подписывает токен
// закрытым ключом. Причину отказа наружу не различаем: и неизвестный
// логин, и неверный пароль дают одинаковый ответ.
func (s *Service) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — Postgres)
	op, err := s.repo.GetOperatorByUsername(ctx, username)
	if err != nil || op == nil {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims (Scopes берем из прав оператора в БД)
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.OperatorClaims{
		UserID: op.ID,
		Scopes: op.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "agentos-kernel",
			Subject:   op.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
