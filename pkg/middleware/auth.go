package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

const (
	UserIDKey        = "user_id"
	UsernameKey      = "username"
	AuthHeaderKey    = "Authorization"
	BearerPrefix     = "Bearer "
	TokenQueryKey    = "access_token"
	DefaultUserIDHdr = "X-User-ID"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidAuthFormat  = errors.New("invalid authorization format")
)

// Identity is the caller as established by the authenticator.
type Identity struct {
	UserID   string
	Username string
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// AuthMiddleware establishes caller identity either from a JWT access token
// or, when token verification is disabled, from a header set by a trusted
// gateway.
type AuthMiddleware struct {
	tokens        *jwt.Manager
	trustedHeader string
}

// NewAuthMiddleware creates a JWT-verifying middleware.
func NewAuthMiddleware(tokens *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// NewTrustedHeaderMiddleware creates a middleware that trusts header as the
// caller's user id. header defaults to X-User-ID.
func NewTrustedHeaderMiddleware(header string) *AuthMiddleware {
	if header == "" {
		header = DefaultUserIDHdr
	}
	return &AuthMiddleware{trustedHeader: header}
}

// Authenticate resolves the caller of r. Browsers cannot set headers on a
// WebSocket handshake, so the token may also arrive as ?access_token=.
func (m *AuthMiddleware) Authenticate(r *http.Request) (Identity, error) {
	if m.tokens == nil {
		userID := strings.TrimSpace(r.Header.Get(m.trustedHeader))
		if userID == "" {
			return Identity{}, ErrMissingCredentials
		}
		return Identity{UserID: userID}, nil
	}

	token := r.URL.Query().Get(TokenQueryKey)
	if authHeader := r.Header.Get(AuthHeaderKey); authHeader != "" {
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			return Identity{}, ErrInvalidAuthFormat
		}
		token = strings.TrimPrefix(authHeader, BearerPrefix)
	}
	if token == "" {
		return Identity{}, ErrMissingCredentials
	}

	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// RequireAuth returns a Gin middleware that rejects unauthenticated calls.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := m.Authenticate(c.Request)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(UsernameKey, id.Username)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))

		c.Next()
	}
}

// RequireAuthHTTP is RequireAuth for plain net/http handlers.
func (m *AuthMiddleware) RequireAuthHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
