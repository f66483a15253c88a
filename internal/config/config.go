package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultAPIBase        = "http://localhost:8080"
	DefaultAPIPrefix      = "/api"
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

// Client holds the settings of the messaging client and the chat CLI.
type Client struct {
	APIBase        string
	APIPrefix      string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
}

// Gateway holds the settings of the dev gateway.
type Gateway struct {
	DBFile       string
	AdminAddr    string
	APIAddr      string
	AuthSecret   string
	TokenExpiry  time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func LoadClient() (*Client, error) {
	connectTimeout, err := time.ParseDuration(getEnv("CHAT_CONNECT_TIMEOUT", DefaultConnectTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("CHAT_CONNECT_TIMEOUT: %w", err)
	}
	reconnectDelay, err := time.ParseDuration(getEnv("CHAT_RECONNECT_DELAY", DefaultReconnectDelay.String()))
	if err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT_DELAY: %w", err)
	}

	cfg := &Client{
		APIBase:        strings.TrimRight(getEnv("EXPO_PUBLIC_API_BASE", DefaultAPIBase), "/"),
		APIPrefix:      getEnv("EXPO_PUBLIC_API_PREFIX", DefaultAPIPrefix),
		ConnectTimeout: connectTimeout,
		ReconnectDelay: reconnectDelay,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Client) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil {
		return fmt.Errorf("EXPO_PUBLIC_API_BASE is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("EXPO_PUBLIC_API_BASE must be http or https, got %q", u.Scheme)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("EXPO_PUBLIC_API_PREFIX must start with /")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CHAT_CONNECT_TIMEOUT must be greater than 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_DELAY must be greater than 0")
	}
	return nil
}

// ServerURL is the realtime gateway root. The API prefix applies to REST
// calls only.
func (c *Client) ServerURL() string {
	return c.APIBase
}

// RESTURL joins the API base, prefix and path.
func (c *Client) RESTURL(path string) string {
	return c.APIBase + strings.TrimRight(c.APIPrefix, "/") + "/" + strings.TrimLeft(path, "/")
}

func LoadGateway(cliMode bool) (*Gateway, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}
	pingInterval, err := time.ParseDuration(getEnv("PING_INTERVAL", "25s"))
	if err != nil {
		return nil, err
	}
	pingTimeout, err := time.ParseDuration(getEnv("PING_TIMEOUT", "20s"))
	if err != nil {
		return nil, err
	}

	cfg := &Gateway{
		DBFile:       getEnv("GATEWAY_DB", "gateway.db"),
		AdminAddr:    getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		TokenExpiry:  tokenExpiry,
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Gateway) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		return fmt.Errorf("PING_INTERVAL and PING_TIMEOUT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
