// Package middleware provides HTTP middleware for the lockswap API.
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

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

type contextKey string

const senderKey contextKey = "sender"

// Claims are the JWT claims accepted by the API. The subject is the sender
// address every authenticated operation runs as.
type Claims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates HS256 bearer tokens.
type AuthMiddleware struct {
	secret []byte
	issuer string
	log    *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware. An empty issuer
// accepts tokens from any issuer.
func NewAuthMiddleware(secret []byte, issuer string, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{secret: secret, issuer: issuer, log: log}
}

// Handler attaches the sender to the request context when a valid token is
// presented. Requests without a token pass through anonymously; routes that
// need a sender use RequireSender. Invalid tokens are rejected.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid Authorization header format")
			return
		}

		claims, err := m.validateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		ctx := WithSender(r.Context(), ledger.Address(claims.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Issue signs a token for sender valid for ttl.
func (m *AuthMiddleware) Issue(sender ledger.Address, ttl time.Duration) (string, error) {
	if sender == "" {
		return "", errors.New("sender is required")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   string(sender),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// WithSender returns a context carrying sender.
func WithSender(ctx context.Context, sender ledger.Address) context.Context {
	return context.WithValue(ctx, senderKey, sender)
}

// Sender extracts the authenticated sender from ctx.
func Sender(ctx context.Context) ledger.Address {
	sender, _ := ctx.Value(senderKey).(ledger.Address)
	return sender
}

// RequireSender rejects anonymous requests.
func RequireSender(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Sender(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
