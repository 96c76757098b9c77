// Package auth is the identity collaborator: it registers users, verifies
// credentials, issues JWT access tokens and maps a verified external subject
// back to the internal owner record id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"financemate/internal/core"
	"financemate/internal/storage"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is the slice of persistence the identity layer needs.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) error
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (core.User, error)
}

type Service struct {
	store    UserStore
	secret   []byte
	tokenTTL time.Duration
}

func NewService(store UserStore, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{store: store, secret: []byte(secret), tokenTTL: tokenTTL}
}

// Register creates a user with a bcrypt password hash and a fresh external
// subject id.
func (s *Service) Register(ctx context.Context, email, password string) (core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return core.User{}, core.Validation(errors.New("valid email required"))
	}
	if len(password) < 8 {
		return core.User{}, core.Validation(errors.New("password too short (min 8)"))
	}

	// pre-check existing (optimistic; the unique index catches races)
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return core.User{}, core.Validation(errors.New("user already exists"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := core.User{
		ID:           uuid.NewString(),
		ExternalID:   uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if isUniqueConstraintError(err) {
			return core.User{}, core.Validation(errors.New("user already exists"))
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login verifies the credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ExternalID)
}

func (s *Service) issueToken(externalID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   externalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates the bearer token, returning the external
// subject id.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", core.ErrUnauthorized
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", core.ErrUnauthorized
	}
	return claims.Subject, nil
}

// ResolveOwner maps a verified external subject to the internal owner record
// id. A token whose subject has no owner record is rejected before any read.
func (s *Service) ResolveOwner(ctx context.Context, externalID string) (string, error) {
	u, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return "", core.ErrUnauthorized
		}
		return "", fmt.Errorf("resolve owner: %w", err)
	}
	return u.ID, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
