package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// ErrUnauthenticated covers missing, malformed, expired and unknown-user credentials.
var ErrUnauthenticated = errors.New("authentication error")

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the user bound to a connection or request. It never changes
// for the lifetime of a connection.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// UserReader looks up identity records.
type UserReader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Resolver turns a bearer token into an Identity.
type Resolver struct {
	secret []byte
	users  UserReader
}

func NewResolver(cfg config.JWTConfig, users UserReader) *Resolver {
	return &Resolver{secret: []byte(cfg.Secret), users: users}
}

// GenerateToken signs a token for userID valid for ttl.
func GenerateToken(cfg config.JWTConfig, userID, username string) (string, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func (r *Resolver) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Resolve validates tokenStr and loads the active user it names.
func (r *Resolver) Resolve(ctx context.Context, tokenStr string) (Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := r.parse(tokenStr)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	u, err := r.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !u.IsActive {
		return Identity{}, fmt.Errorf("%w: user inactive", ErrUnauthenticated)
	}
	return Identity{ID: u.ID, Username: u.Username, Name: u.DisplayName(), Avatar: u.Avatar}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
