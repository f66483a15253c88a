package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]StoredToken
	err    error
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]StoredToken)}
}

func (m *memStore) UpsertToken(token StoredToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tokens[token.Hash] = token
	return nil
}

func (m *memStore) DeleteToken(tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memStore) ListTokens() ([]StoredToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredToken
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out, nil
}

func TestService(t *testing.T) {
	const t0Unix = 1700000000

	createService := func(t *testing.T, store TokenStore) (*Service, *time.Time) {
		cfg := Config{
			Secret:      base64.StdEncoding.EncodeToString([]byte("server-secret")),
			TokenExpiry: time.Hour,
		}

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		svc, err := NewService(ctx, cfg, store)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	t.Run("IssueAndResolve", func(t *testing.T) {
		svc, _ := createService(t, newMemStore())

		issued, err := svc.IssueToken("alice")
		require.NoError(t, err)
		require.NotEmpty(t, issued.Token)
		require.Equal(t, int64(t0Unix+3600), issued.ExpiresAt)

		userID, err := svc.UserID(issued.Token)
		require.NoError(t, err)
		require.Equal(t, "alice", userID)

		require.NoError(t, svc.Verify("alice", issued.Token))
		require.ErrorIs(t, svc.Verify("bob", issued.Token), ErrUnauthorized)
	})

	t.Run("InvalidUserID", func(t *testing.T) {
		svc, _ := createService(t, nil)
		_, err := svc.IssueToken("bad id")
		require.Error(t, err)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		svc, _ := createService(t, nil)
		_, err := svc.UserID("nope")
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = svc.UserID("")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("Expiry", func(t *testing.T) {
		svc, now := createService(t, nil)
		issued, err := svc.IssueToken("alice")
		require.NoError(t, err)

		*now = now.Add(2 * time.Hour)
		_, err = svc.UserID(issued.Token)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("Revoke", func(t *testing.T) {
		store := newMemStore()
		svc, _ := createService(t, store)
		issued, err := svc.IssueToken("alice")
		require.NoError(t, err)
		require.Len(t, store.tokens, 1)

		require.NoError(t, svc.Revoke(issued.Token))
		_, err = svc.UserID(issued.Token)
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Empty(t, store.tokens)
	})

	t.Run("StoresHashOnly", func(t *testing.T) {
		store := newMemStore()
		svc, _ := createService(t, store)
		issued, err := svc.IssueToken("alice")
		require.NoError(t, err)

		for hash, stored := range store.tokens {
			require.NotEqual(t, issued.Token, hash)
			require.Equal(t, "alice", stored.UserID)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := newMemStore()
		store.err = errors.New("disk full")
		svc, _ := createService(t, store)
		_, err := svc.IssueToken("alice")
		require.Error(t, err)
	})
}

func TestService_RestoresTokens(t *testing.T) {
	store := newMemStore()
	cfg := Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("server-secret")),
		TokenExpiry: time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := NewService(ctx, cfg, store)
	require.NoError(t, err)
	issued, err := first.IssueToken("alice")
	require.NoError(t, err)

	// an already expired record is dropped on load
	require.NoError(t, store.UpsertToken(StoredToken{Hash: "old", UserID: "bob", ExpiresAt: 1}))

	second, err := NewService(ctx, cfg, store)
	require.NoError(t, err)
	userID, err := second.UserID(issued.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", userID)

	_, ok := store.tokens["old"]
	require.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg = Config{Secret: "not base64!"}
	require.Error(t, cfg.Validate())

	cfg = Config{Secret: base64.StdEncoding.EncodeToString([]byte("s"))}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultTokenExpiry, cfg.TokenExpiry)
}
