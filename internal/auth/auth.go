// Package auth handles dashboard accounts: password hashing, login, token
// issue and verification, and profile changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for a malformed, expired or orphaned token.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// InputError describes a request the caller must fix.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// Token is the result of a successful login or profile change.
type Token struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"` // seconds
	ExpiresAt time.Time `json:"-"`
	Username  string    `json:"username"`
}

// ProfileUpdate requests a username and/or password change.
type ProfileUpdate struct {
	CurrentPassword string `json:"currentPassword"`
	NewUsername     string `json:"newUsername,omitempty"`
	NewPassword     string `json:"newPassword,omitempty"`
}

// Service authenticates users against the store.
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewService creates an auth service signing HS256 tokens with secret.
func NewService(s store.Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:  s,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration { return s.ttl }

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EnsureDefaultUser creates the account if no user with that name exists.
func (s *Service) EnsureDefaultUser(ctx context.Context, username, password string) error {
	_, err := s.store.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up default user: %w", err)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.CreateUser(ctx, &model.User{Username: username, PasswordHash: hash}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("create default user: %w", err)
	}
	slog.Info("created default user", "username", username)
	return nil
}

// Login verifies the password and issues a token, recording it as the
// user's last token.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	u, err := s.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !checkPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	tok, err := s.issue(u.Username)
	if err != nil {
		return nil, err
	}
	u.LastToken = tok.Token
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("record token: %w", err)
	}
	return tok, nil
}

// Authenticate validates token and returns the username it was issued to.
// The user must still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	username, err := s.ParseToken(token)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetUser(ctx, username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("look up user: %w", err)
	}
	return username, nil
}

// ParseToken checks the signature and expiry of token and returns its
// subject without consulting the store.
func (s *Service) ParseToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *Service) issue(username string) (*Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{
		Token:     signed,
		TokenType: "bearer",
		ExpiresIn: int64(s.ttl / time.Second),
		ExpiresAt: exp,
		Username:  username,
	}, nil
}

// UpdateProfile changes the username and/or password of current after
// re-checking the current password, and returns a fresh token.
func (s *Service) UpdateProfile(ctx context.Context, current string, req ProfileUpdate) (*Token, error) {
	newUsername := strings.TrimSpace(req.NewUsername)
	if newUsername == "" && req.NewPassword == "" {
		return nil, &InputError{Msg: "provide a new username or password"}
	}

	var tok *Token
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		u, err := tx.GetUser(ctx, current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		if !checkPassword(u.PasswordHash, req.CurrentPassword) {
			return ErrInvalidCredentials
		}

		if newUsername != "" && newUsername != u.Username {
			if _, err := tx.GetUser(ctx, newUsername); err == nil {
				return &InputError{Msg: "username already in use"}
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			u.Username = newUsername
		}
		if req.NewPassword != "" {
			hash, err := s.HashPassword(req.NewPassword)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
		}

		tok, err = s.issue(u.Username)
		if err != nil {
			return err
		}
		u.LastToken = tok.Token
		if err := tx.UpdateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &InputError{Msg: "username already in use"}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}
