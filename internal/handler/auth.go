package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rewards-ledger/internal/domain"
)

// PlatformKeyHeader carries the shared key of trusted platform services
const PlatformKeyHeader = "X-Platform-Key"

// RolePlatform marks a token issued to a platform service rather than a user
const RolePlatform = "platform"

// Claims are the bearer token claims. The subject is the actor.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type caller struct {
	id   string
	role string
}

type callerKey struct{}

// SetTokenSecret switches actor resolution from ActorHeader to HS256 bearer
// tokens signed with secret.
func (h *Handler) SetTokenSecret(secret string) {
	h.tokenSecret = []byte(secret)
}

// SetPlatformKey sets the key platform services present in PlatformKeyHeader.
// Without a key, platform-only routes accept only platform-role tokens.
func (h *Handler) SetPlatformKey(key string) {
	h.platformKey = []byte(key)
}

// actorMiddleware resolves the caller once per request and stores it in the
// request context.
func (h *Handler) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.tokenSecret) == 0 {
			c := caller{id: strings.TrimSpace(r.Header.Get(ActorHeader))}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if len(authHeader) <= 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		c, err := h.parseToken(strings.TrimSpace(authHeader[7:]))
		if err != nil {
			h.logger.Warn("rejected bearer token", "error", err)
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorizedActor)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// requirePlatform admits platform-role tokens and holders of the platform key
func (h *Handler) requirePlatform(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := r.Context().Value(callerKey{}).(caller)
		if c.role == RolePlatform {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(PlatformKeyHeader)
		if len(h.platformKey) > 0 && subtle.ConstantTimeCompare([]byte(key), h.platformKey) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		h.logger.Warn("platform route refused", "path", r.URL.Path, "actor", c.id)
		h.writeError(w, http.StatusForbidden, domain.ErrUnauthorizedActor)
	})
}

func (h *Handler) parseToken(tokenString string) (caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return h.tokenSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return caller{}, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return caller{}, fmt.Errorf("token has no subject")
	}
	return caller{id: claims.Subject, role: claims.Role}, nil
}

func actor(r *http.Request) string {
	c, _ := r.Context().Value(callerKey{}).(caller)
	return c.id
}
