package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/pkg/logger"
)

type contextKey struct{}

var principalKey contextKey

// Claims is the access token payload. The subject holds the user id.
type Claims struct {
	Role int    `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SignAccessToken issues an HS256 access token for the given user
func SignAccessToken(userID int64, role models.Role, name string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		Role: int(role),
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAccessToken validates a raw token and resolves the principal it carries
func ParseAccessToken(raw string, secret []byte) (models.Principal, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Principal{}, fmt.Errorf("invalid access token claims")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid subject claim: %w", err)
	}

	return models.Principal{
		UserID: userID,
		Role:   models.Role(claims.Role),
		Name:   claims.Name,
	}, nil
}

// Middleware resolves the principal from the Authorization header and
// stores it on the request context. Requests without a valid bearer
// token are rejected with 401.
func Middleware(secret []byte, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")

			if !found || raw == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"missing or malformed authorization header"}`))
				return
			}

			principal, err := ParseAccessToken(raw, secret)
			if err != nil {
				log.Warn("Rejected request with invalid token", "error", err, "path", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"invalid access token"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// WithPrincipal returns a context carrying the given principal
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the principal stored by the middleware
func FromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
