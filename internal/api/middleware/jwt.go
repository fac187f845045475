package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// agentContextKey is the context key type for authenticated agent values.
type agentContextKey string

const agentIDKey agentContextKey = "agent_id"

// tokenTTL is the lifetime of an agent JWT token.
const tokenTTL = 24 * time.Hour

// AgentClaims holds the JWT claims for agent console authentication.
type AgentClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// GenerateAgentToken creates a signed JWT for an agent login.
func GenerateAgentToken(secret []byte, agentID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tokenTTL)

	claims := AgentClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "dialcore",
			Subject:   agentID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireAgentAuth returns middleware that validates JWT bearer tokens. On
// success it stores the agent ID in the request context. An empty secret
// disables authentication entirely, for single-tenant deployments behind a
// trusted network.
func RequireAgentAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeEnvelopeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeEnvelopeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &AgentClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("agent auth: invalid jwt", "error", err)
				writeEnvelopeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.AgentID == "" {
				writeEnvelopeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), agentIDKey, claims.AgentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentIDFromContext retrieves the authenticated agent ID from the request
// context. Returns "" if not set.
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
