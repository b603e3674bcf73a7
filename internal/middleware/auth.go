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
)

type contextKey string

const attemptIDKey contextKey = "attempt_id"

// AttemptClaims scope a bearer token to one feedback attempt.
type AttemptClaims struct {
	AttemptID string `json:"attempt_id"`
	RoundID   string `json:"round_id"`
	jwt.RegisteredClaims
}

// IssueAttemptToken signs an HS256 token for the attempt valid for ttl.
func IssueAttemptToken(secret, attemptID, roundID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AttemptClaims{
		AttemptID: attemptID,
		RoundID:   roundID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseAttemptToken(secret, tokenString string) (*AttemptClaims, error) {
	claims := &AttemptClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.AttemptID == "" {
		return nil, errors.New("token has no attempt id")
	}
	return claims, nil
}

// AttemptAuth requires a valid attempt bearer token and stores the attempt id
// in the request context.
func AttemptAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := parseAttemptToken(secret, tokenString)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), attemptIDKey, claims.AttemptID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAttemptID returns the attempt id set by AttemptAuth, or "".
func GetAttemptID(ctx context.Context) string {
	id, _ := ctx.Value(attemptIDKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
