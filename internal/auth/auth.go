// Package auth gates cmd/ragserver's endpoints behind an optional bearer
// JWT, off by default. Trimmed from the teacher's internal/auth/auth.go to
// the issue/validate/middleware slice: the teacher's GitHub OAuth
// login/callback flow and org-membership check have no equivalent here —
// this package authenticates a caller the deployment already trusts (a
// service account, an operator), it does not establish identity against an
// external provider.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const CallerContextKey ContextKey = "caller"

// Caller is the identity carried by a validated bearer token.
type Caller struct {
	Subject string
}

type claims struct {
	jwt.RegisteredClaims
}

type AuthConfig struct {
	JwtSecret []byte
	Enabled   bool
}

var authConfig *AuthConfig

// InitializeAuth sets up the auth configuration.
func InitializeAuth(jwtSecret string, enabled bool) {
	authConfig = &AuthConfig{JwtSecret: []byte(jwtSecret), Enabled: enabled}
}

// IsAuthEnabled returns whether authentication is enabled.
func IsAuthEnabled() bool {
	return authConfig != nil && authConfig.Enabled
}

// IssueJWT mints a bearer token for subject, valid for ttl.
func IssueJWT(subject string, ttl time.Duration) (string, error) {
	if authConfig == nil {
		return "", errors.New("auth not initialized")
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(authConfig.JwtSecret)
}

// ValidateJWT validates and parses a bearer token into its Caller.
func ValidateJWT(tokenString string) (*Caller, error) {
	if authConfig == nil {
		return nil, errors.New("auth not initialized")
	}
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return &Caller{Subject: c.Subject}, nil
}

// OptionalAuthMiddleware extracts and validates a bearer JWT from the
// request if auth is enabled; if auth is disabled, it passes every request
// through unchanged.
func OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		var tokenString string
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		caller, err := ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), CallerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetCallerFromContext extracts the authenticated caller from a request
// context, if any.
func GetCallerFromContext(r *http.Request) *Caller {
	if caller, ok := r.Context().Value(CallerContextKey).(*Caller); ok {
		return caller
	}
	return nil
}
