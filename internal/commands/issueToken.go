package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"instantlly/internal/api"
	"instantlly/internal/auth"
	"instantlly/internal/config"
)

// RequestToken asks a running gateway's admin API for a token.
func RequestToken(userID string, cfg *config.Gateway) (auth.IssuedToken, error) {
	reqBody, err := json.Marshal(api.IssueTokenRequest{UserID: userID})
	if err != nil {
		return auth.IssuedToken{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/tokens", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return auth.IssuedToken{}, fmt.Errorf("failed to call admin API: %w. Is the gateway running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return auth.IssuedToken{}, fmt.Errorf("failed to issue token (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result auth.IssuedToken
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return auth.IssuedToken{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// IssueToken prints a fresh token for userID.
func IssueToken(userID string, cfg *config.Gateway) error {
	result, err := RequestToken(userID, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("\nToken Issued Successfully!\n")
	fmt.Printf("User ID:    %s\n", result.UserID)
	fmt.Printf("Token:      %s\n", result.Token)
	fmt.Printf("Expires At: %s\n\n", time.Unix(result.ExpiresAt, 0).Format(time.RFC3339))
	fmt.Println("Pass it to the chat client with -user and -token.")
	return nil
}
