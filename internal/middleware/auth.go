package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
)

type contextKey string

const claimsKey contextKey = "claims"

const roleAdmin = "admin"

// Claims represents JWT claims issued by the admin panel.
type Claims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signs claims with HS256.
func GenerateJWT(userID int, email, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateJWT validates a JWT token and returns the claims
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// RequireAdmin rejects requests without a valid bearer token (401) or whose
// token does not carry the admin role (403).
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" || secret == "" {
				deny(w, fmt.Errorf("%w: missing or malformed bearer token", appErrors.ErrUnauthorized))
				return
			}

			claims, err := ValidateJWT(tokenString, secret)
			if err != nil {
				deny(w, fmt.Errorf("%w: invalid or expired token", appErrors.ErrUnauthorized))
				return
			}
			if claims.Role != roleAdmin {
				deny(w, fmt.Errorf("%w: admin role required", appErrors.ErrForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// ClaimsFrom returns the claims stored by RequireAdmin.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// deny answers 403 for ErrForbidden and 401 for everything else.
func deny(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, appErrors.ErrForbidden) {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": err.Error(),
	})
}
