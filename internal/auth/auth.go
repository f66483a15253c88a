package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c-pro/geche"

	"instantlly/internal/content"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

// StoredToken is the persisted form of a live token. Only the HMAC of
// the token is kept.
type StoredToken struct {
	Hash      string
	UserID    string
	ExpiresAt int64 // Unix timestamp (seconds)
}

// IssuedToken is returned once to whoever requested the token.
type IssuedToken struct {
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type TokenStore interface {
	UpsertToken(token StoredToken) error
	DeleteToken(tokenHash string) error
	ListTokens() ([]StoredToken, error)
}

// Service issues and checks the bearer tokens clients present to the
// gateway on both transports.
type Service struct {
	Config
	store      TokenStore
	liveTokens geche.Geche[string, StoredToken]
	now        func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewService(ctx context.Context, config Config, store TokenStore) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		Config:     config,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, StoredToken](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	if store != nil {
		tokens, err := store.ListTokens()
		if err != nil {
			return nil, fmt.Errorf("failed to load tokens: %w", err)
		}
		now := s.now().Unix()
		for _, t := range tokens {
			if t.ExpiresAt <= now {
				if err := store.DeleteToken(t.Hash); err != nil {
					slog.Warn("failed to delete expired token", "user_id", t.UserID, "error", err)
				}
				continue
			}
			s.liveTokens.Set(t.Hash, t)
		}
	}

	return s, nil
}

func (s *Service) hashToken(token string) string {
	h := hmac.New(sha512.New, s.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *Service) IssueToken(userID string) (IssuedToken, error) {
	if err := content.ValidateUserID(userID); err != nil {
		return IssuedToken{}, err
	}

	token, err := generateToken()
	if err != nil {
		slog.Error("token generation failed", "user_id", userID, "error", err)
		return IssuedToken{}, err
	}

	stored := StoredToken{
		Hash:      s.hashToken(token),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.TokenExpiry).Unix(),
	}
	if s.store != nil {
		if err := s.store.UpsertToken(stored); err != nil {
			return IssuedToken{}, fmt.Errorf("failed to persist token: %w", err)
		}
	}
	s.liveTokens.Set(stored.Hash, stored)

	return IssuedToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// UserID resolves a token to the user it was issued for.
func (s *Service) UserID(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	hash := s.hashToken(token)
	stored, err := s.liveTokens.Get(hash)
	if err != nil {
		return "", ErrUnauthorized
	}
	if stored.ExpiresAt <= s.now().Unix() {
		_ = s.liveTokens.Del(hash)
		return "", ErrUnauthorized
	}
	return stored.UserID, nil
}

// Verify checks that token was issued for userID.
func (s *Service) Verify(userID, token string) error {
	owner, err := s.UserID(token)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(owner), []byte(userID)) {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) Revoke(token string) error {
	hash := s.hashToken(token)
	if s.store != nil {
		if err := s.store.DeleteToken(hash); err != nil {
			return err
		}
	}
	return s.liveTokens.Del(hash)
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
