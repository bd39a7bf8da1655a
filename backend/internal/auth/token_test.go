package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "voice-bridge/backend/pkg/errors"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidator_UserID(t *testing.T) {
	v := NewValidator("access", "refresh")
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name      string
		token     string
		wantID    string
		wantCode  int
		wantError bool
	}{
		{
			name:   "access token",
			token:  sign(t, "access", jwt.MapClaims{"id": "user-1", "exp": exp}),
			wantID: "user-1",
		},
		{
			name:   "refresh token",
			token:  sign(t, "refresh", jwt.MapClaims{"id": "user-2", "exp": exp}),
			wantID: "user-2",
		},
		{
			name:   "bearer prefix",
			token:  "Bearer " + sign(t, "access", jwt.MapClaims{"id": "user-3", "exp": exp}),
			wantID: "user-3",
		},
		{
			name:      "missing token",
			token:     "",
			wantCode:  apperrors.ClosePolicyViolation,
			wantError: true,
		},
		{
			name:      "wrong secret",
			token:     sign(t, "other", jwt.MapClaims{"id": "user-1", "exp": exp}),
			wantCode:  apperrors.ClosePolicyViolation,
			wantError: true,
		},
		{
			name:      "expired",
			token:     sign(t, "access", jwt.MapClaims{"id": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantCode:  apperrors.ClosePolicyViolation,
			wantError: true,
		},
		{
			name:      "no id claim",
			token:     sign(t, "access", jwt.MapClaims{"exp": exp}),
			wantCode:  apperrors.ClosePolicyViolation,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.UserID(tt.token)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeAdmission))
				code, _ := apperrors.CloseCode(err)
				assert.Equal(t, tt.wantCode, code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestValidator_RejectsNoneAlgorithm(t *testing.T) {
	v := NewValidator("access", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.UserID(token)
	assert.Error(t, err)
}
