package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sta-electricity/outagesync/internal/api"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer is written to the iss claim and required on validation.
const TokenIssuer = "outagesync"

// UserClaims are the JWT claims issued to an operator.
type UserClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthConfig holds JWT authentication configuration.
type JWTAuthConfig struct {
	// AdminUsername is the single operator account.
	AdminUsername string

	// AdminPasswordHash is the bcrypt hash of the admin password.
	AdminPasswordHash string

	// Secret signs and verifies tokens (HS256).
	Secret string

	// Expiry is the token lifetime.
	Expiry time.Duration

	// SkipPaths bypass authentication. A trailing "*" matches a prefix.
	SkipPaths []string
}

// JWTAuthMiddleware authenticates bearer tokens and issues new ones.
type JWTAuthMiddleware struct {
	config   JWTAuthConfig
	exact    map[string]bool
	prefixes []string
	now      func() time.Time
}

type contextKey string

// UserContextKey is the context key for the authenticated username.
const UserContextKey contextKey = "user"

// NewJWTAuthMiddleware creates the middleware from config.
func NewJWTAuthMiddleware(config JWTAuthConfig) *JWTAuthMiddleware {
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	m := &JWTAuthMiddleware{
		config: config,
		exact:  make(map[string]bool),
		now:    time.Now,
	}
	for _, p := range config.SkipPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			m.prefixes = append(m.prefixes, prefix)
			continue
		}
		m.exact[p] = true
	}
	return m
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Expiry returns the lifetime of issued tokens.
func (m *JWTAuthMiddleware) Expiry() time.Duration {
	return m.config.Expiry
}

// GenerateToken issues a signed token for username.
func (m *JWTAuthMiddleware) GenerateToken(username string) (string, error) {
	now := m.now()
	claims := UserClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.Expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// ValidateToken parses tokenString and returns its claims.
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Username == "" {
		return nil, errors.New("token has no username")
	}
	return claims, nil
}

// ValidateCredentials reports whether username and password match the admin account.
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	if m.config.AdminPasswordHash == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(m.config.AdminUsername)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.config.AdminPasswordHash), []byte(password)) == nil
}

// Wrap requires a valid bearer token on every path not in SkipPaths.
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "Missing authentication token")
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			log.Printf("JWTAuthMiddleware: Invalid token from %s: %v", r.RemoteAddr, err)
			unauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims.Username)))
	})
}

func (m *JWTAuthMiddleware) skip(path string) bool {
	if m.exact[path] {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="outagesync"`)
	api.RespondError(w, http.StatusUnauthorized, message)
}

// GetUserFromContext returns the authenticated username, or "".
func GetUserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(UserContextKey).(string)
	return user
}
