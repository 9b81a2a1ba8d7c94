// Package auth registers users, issues bearer tokens and guards the
// lifecycle routes.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"launchpad/store"
	"launchpad/types"
)

const bcryptCost = 10

// UserStore persists credentials.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	UserByName(ctx context.Context, username string) (store.User, error)
}

// Claims are carried in issued tokens.
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// Service handles registration, login and token verification.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service signing tokens with secret (HS256).
func NewService(users UserStore, secret string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl, now: time.Now, logger: logger}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, types.Errorf(types.CodeInvalidInput, "register", "", "username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return store.User{}, types.NewError(types.CodeInvalidInput, "register", "", err)
	}
	return s.users.CreateUser(ctx, username, string(hash))
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.UserByName(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", invalidCredentials()
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", invalidCredentials()
	}
	return s.IssueToken(user)
}

func invalidCredentials() error {
	return types.Errorf(types.CodeUnauthorized, "login", "", "invalid username or password")
}

// IssueToken signs a token for user.
func (s *Service) IssueToken(user store.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, types.NewError(types.CodeUnauthorized, "verify token", "", err)
	}
	return claims, nil
}

// Middleware rejects requests without a bearer token (401) or with an
// invalid one (403). Verified claims are available via ClaimsFromContext.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			deny(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.Verify(token)
		if err != nil {
			s.logger.Warn("Token verification failed", "path", r.URL.Path, "error", err)
			deny(w, http.StatusForbidden, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// ClaimsFromContext returns the claims set by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
		"code":    types.CodeUnauthorized,
	})
}
