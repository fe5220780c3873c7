package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/subforge/audit-api/internal/models"
	appErrors "github.com/subforge/audit-api/pkg/errors"
)

// AuthService validates access tokens issued by the main application.
// This service never issues tokens or handles credentials; it only
// checks signatures so the admin endpoints can be gated by role.
type AuthService struct {
	secret []byte
}

// NewAuthService constructs the validator.
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}
