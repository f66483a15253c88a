package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"instantlly/internal/content"
	"instantlly/internal/models"
	"instantlly/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type tokenResolver interface {
	UserID(token string) (string, error)
}

type historyStore interface {
	LastMessages(convKey string, n int) ([]models.Message, error)
}

type presenceSource interface {
	Online() []string
}

type API struct {
	auth     tokenResolver
	history  historyStore
	presence presenceSource
}

func New(auth tokenResolver, history historyStore, presence presenceSource) *API {
	return &API{auth: auth, history: history, presence: presence}
}

type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Online int    `json:"online"`
}

func getToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return bearer
	}
	return ""
}

type userIDKey struct{}

// RequireAuth rejects requests without a live token and stores the token
// owner in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.UserID(getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey{}).(string)
	return userID
}

// DirectHistoryHandler serves GET /api/chats/{peerId}/messages.
func (a *API) DirectHistoryHandler(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("peerId")
	if err := content.ValidateUserID(peerID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeHistory(w, r, storage.DirectKey(userIDFrom(r), peerID))
}

// GroupHistoryHandler serves GET /api/groups/{groupId}/messages.
func (a *API) GroupHistoryHandler(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupId")
	if groupID == "" {
		http.Error(w, "group id is required", http.StatusBadRequest)
		return
	}
	a.writeHistory(w, r, storage.GroupKey(groupID))
}

func (a *API) writeHistory(w http.ResponseWriter, r *http.Request, convKey string) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := a.history.LastMessages(convKey, limit)
	if err != nil {
		log.Printf("failed to load history of %s: %v", convKey, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HistoryResponse{Messages: messages}); err != nil {
		log.Printf("failed to encode history response: %v", err)
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status: "ok",
		Online: len(a.presence.Online()),
	}); err != nil {
		log.Printf("failed to encode health response: %v", err)
	}
}
