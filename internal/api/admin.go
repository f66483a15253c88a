package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"instantlly/internal/auth"
)

type tokenIssuer interface {
	IssueToken(userID string) (auth.IssuedToken, error)
	Revoke(token string) error
}

// AdminHandler serves the loopback-only admin API.
type AdminHandler struct {
	tokens tokenIssuer
}

func NewAdminHandler(tokens tokenIssuer) *AdminHandler {
	return &AdminHandler{tokens: tokens}
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

type RevokeTokenRequest struct {
	Token string `json:"token"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	issued, err := h.tokens.IssueToken(req.UserID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to issue token: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, issued)
}

func (h *AdminHandler) RevokeTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req RevokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.tokens.Revoke(req.Token); err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to revoke token: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "Token revoked"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
