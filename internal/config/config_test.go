package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, DefaultAPIBase, cfg.APIBase)
	require.Equal(t, DefaultAPIPrefix, cfg.APIPrefix)
	require.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadClient_Env(t *testing.T) {
	t.Setenv("EXPO_PUBLIC_API_BASE", "https://cards.example.com/")
	t.Setenv("EXPO_PUBLIC_API_PREFIX", "/v1")
	t.Setenv("CHAT_CONNECT_TIMEOUT", "2s")

	cfg, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, "https://cards.example.com", cfg.ServerURL())
	require.Equal(t, "https://cards.example.com/v1/chats/42/messages", cfg.RESTURL("/chats/42/messages"))
	require.Equal(t, 2*time.Second, cfg.ConnectTimeout)
}

func TestLoadClient_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Bad scheme", "EXPO_PUBLIC_API_BASE", "ftp://example.com"},
		{"Prefix without slash", "EXPO_PUBLIC_API_PREFIX", "api"},
		{"Bad duration", "CHAT_RECONNECT_DELAY", "soon"},
		{"Zero timeout", "CHAT_CONNECT_TIMEOUT", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadClient()
			require.Error(t, err)
		})
	}
}

func TestLoadGateway(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	_, err := LoadGateway(false)
	require.Error(t, err, "AUTH_SECRET must be required outside cli mode")

	cfg, err := LoadGateway(true)
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, cfg.TokenExpiry)

	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("PING_INTERVAL", "1s")
	cfg, err = LoadGateway(false)
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.PingInterval)
}
