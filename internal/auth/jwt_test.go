package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santehsupply/orders-api/internal/auth"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/pkg/logger"
)

var testSecret = []byte("test-secret")

func TestSignAndParseAccessToken(t *testing.T) {
	raw, err := auth.SignAccessToken(42, models.RoleEmployee, "Olga", testSecret, time.Hour)
	require.NoError(t, err)

	p, err := auth.ParseAccessToken(raw, testSecret)
	require.NoError(t, err)

	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, models.RoleEmployee, p.Role)
	assert.Equal(t, "Olga", p.Name)
}

func TestParseAccessToken_Invalid(t *testing.T) {
	t.Run("wrong_secret", func(t *testing.T) {
		raw, err := auth.SignAccessToken(42, models.RoleClient, "Ivan", []byte("other-secret"), time.Hour)
		require.NoError(t, err)

		_, err = auth.ParseAccessToken(raw, testSecret)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		raw, err := auth.SignAccessToken(42, models.RoleClient, "Ivan", testSecret, -time.Minute)
		require.NoError(t, err)

		_, err = auth.ParseAccessToken(raw, testSecret)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.ParseAccessToken("not-a-token", testSecret)
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	var seen models.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusOK)
	})

	handler := auth.Middleware(testSecret, logger.Nop())(next)

	t.Run("valid_token_passes_principal", func(t *testing.T) {
		raw, err := auth.SignAccessToken(7, models.RoleAdmin, "Root", testSecret, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(7), seen.UserID)
		assert.Equal(t, models.RoleAdmin, seen.Role)
	})

	t.Run("missing_header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed_header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid_token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
