// Package auth issues and validates the review server's own bearer tokens
// and maps them back to the upstream coding-service session they wrap.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UsernameKey      contextKey = "username"
	SessionIDKey     contextKey = "session_id"
	UpstreamTokenKey contextKey = "upstream_token"
)

// Claims is the payload of tokens this server mints. The JWT ID is the
// session store key.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenIssuer mints and parses HS256 session tokens.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenIssuer builds an issuer with the given HMAC key and token TTL.
func NewTokenIssuer(signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey, ttl: ttl}
}

// Issue mints a signed token whose JWT ID is the session's store key.
func (i *TokenIssuer) Issue(sess *Session) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Username: sess.Username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingKey)
}

// Parse validates a token string and returns its claims.
func (i *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// Middleware authenticates requests with a bearer token minted by Issue,
// resolves the backing session, and places the username and upstream token
// on the request context. Expired or unknown sessions get a 401 so the
// client can force a fresh login.
func Middleware(issuer *TokenIssuer, store *MemoryStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			sess, err := store.Get(claims.ID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UsernameKey, sess.Username)
			ctx = context.WithValue(ctx, SessionIDKey, sess.ID)
			ctx = context.WithValue(ctx, UpstreamTokenKey, sess.UpstreamToken)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// UsernameFromContext returns the authenticated coder's username, or "".
func UsernameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(UsernameKey).(string)
	return v
}

// SessionIDFromContext returns the authenticated session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// UpstreamTokenFromContext returns the upstream bearer token for the
// authenticated session, or "".
func UpstreamTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(UpstreamTokenKey).(string)
	return v
}
