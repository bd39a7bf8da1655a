package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	apperrors "voice-bridge/backend/pkg/errors"
)

// Validator verifies bearer tokens issued by the chat backend. Access tokens
// are tried first, then refresh tokens.
type Validator struct {
	secrets [][]byte
	parser  *jwt.Parser
}

// NewValidator creates a validator for the given secrets. Empty secrets are skipped.
func NewValidator(accessSecret, refreshSecret string) *Validator {
	v := &Validator{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		})),
	}
	for _, s := range []string{accessSecret, refreshSecret} {
		if s != "" {
			v.secrets = append(v.secrets, []byte(s))
		}
	}
	return v
}

// UserID validates token and returns the user id carried in its "id" claim.
func (v *Validator) UserID(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", apperrors.NewAuthenticationRequired()
	}

	var lastErr error
	for _, secret := range v.secrets {
		claims := jwt.MapClaims{}
		_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			lastErr = err
			continue
		}

		userID, _ := claims["id"].(string)
		if userID == "" {
			return "", apperrors.NewAdmissionDenied("Invalid user", apperrors.ClosePolicyViolation, nil)
		}
		return userID, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no token secrets configured")
	}
	return "", apperrors.NewAuthenticationFailed(lastErr)
}
