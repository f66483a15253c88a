package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"instantlly/internal/content"
	"instantlly/internal/models"
)

const sessionBuffer = 100

var (
	ErrUnroutable     = errors.New("message needs exactly one of receiverId and groupId")
	ErrInvalidType    = errors.New("unknown message type")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", content.MaxMessageLength)
)

type MessageStore interface {
	AppendMessage(message models.Message) (int64, error)
}

// Hub routes frames between the sessions of online users. A user may hold
// several sessions, one per connected device or transport.
type Hub struct {
	store MessageStore
	now   func() time.Time

	// userID -> sessionID -> outbound frames
	sessions map[string]map[string]chan models.ServerFrame

	mu sync.RWMutex
}

func NewHub(store MessageStore) *Hub {
	return &Hub{
		store:    store,
		now:      time.Now,
		sessions: make(map[string]map[string]chan models.ServerFrame),
	}
}

// Join registers a new session of userID. The first session of a user
// announces them online to everyone else.
func (h *Hub) Join(userID string) (string, chan models.ServerFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionID := uuid.NewString()
	ch := make(chan models.ServerFrame, sessionBuffer)

	userSessions, ok := h.sessions[userID]
	if !ok {
		userSessions = make(map[string]chan models.ServerFrame)
		h.sessions[userID] = userSessions
	}
	userSessions[sessionID] = ch

	if !ok {
		h.broadcastPresenceLocked(userID, true)
	}

	return sessionID, ch
}

// Leave drops a session and closes its channel. Removing the last session
// of a user announces them offline.
func (h *Hub) Leave(userID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userSessions, ok := h.sessions[userID]
	if !ok {
		return
	}
	ch, ok := userSessions[sessionID]
	if !ok {
		return
	}
	close(ch)
	delete(userSessions, sessionID)

	if len(userSessions) == 0 {
		delete(h.sessions, userID)
		h.broadcastPresenceLocked(userID, false)
	}
}

// Dispatch stores a message sent by senderID and relays it. Direct messages
// go to every session of the receiver; group messages go to every online
// user except the sender. The originating session gets a message_ack.
func (h *Hub) Dispatch(senderID, sessionID string, p models.SendMessagePayload) (models.Message, error) {
	if (p.ReceiverID == "") == (p.GroupID == "") {
		return models.Message{}, ErrUnroutable
	}
	if p.MessageType == "" {
		p.MessageType = models.MessageTypeText
	}
	if !p.MessageType.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidType, p.MessageType)
	}

	if len([]rune(p.Content)) > content.MaxMessageLength {
		return models.Message{}, ErrMessageTooLong
	}

	msg := models.Message{
		ID:          p.MessageID,
		SenderID:    senderID,
		ReceiverID:  p.ReceiverID,
		GroupID:     p.GroupID,
		Content:     content.Sanitize(p.Content),
		MessageType: p.MessageType,
		Timestamp:   p.Timestamp,
		Status:      models.StatusSent,
		Metadata:    p.Metadata,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}

	if h.store != nil {
		if _, err := h.store.AppendMessage(msg); err != nil {
			return models.Message{}, fmt.Errorf("failed to store message: %w", err)
		}
	}

	delivery, err := models.NewServerFrame(models.ServerFrameNewMessage, msg)
	if err != nil {
		return models.Message{}, err
	}
	ack, err := models.NewServerFrame(models.ServerFrameMessageAck, models.MessageAck{MessageID: msg.ID})
	if err != nil {
		return models.Message{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.GroupID != "" {
		for userID, userSessions := range h.sessions {
			if userID == senderID {
				continue
			}
			for _, ch := range userSessions {
				h.send(ch, delivery)
			}
		}
	} else {
		for _, ch := range h.sessions[msg.ReceiverID] {
			h.send(ch, delivery)
		}
	}

	if ch, ok := h.sessions[senderID][sessionID]; ok {
		h.send(ch, ack)
	}

	return msg, nil
}

// Online lists the users holding at least one session.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) broadcastPresenceLocked(userID string, online bool) {
	frame, err := models.NewServerFrame(models.ServerFramePresenceUpdate, models.Presence{
		UserID:   userID,
		Online:   online,
		LastSeen: h.now().Unix(),
	})
	if err != nil {
		slog.Error("failed to build presence frame", "user_id", userID, "error", err)
		return
	}

	for otherID, userSessions := range h.sessions {
		if otherID == userID {
			continue
		}
		for _, ch := range userSessions {
			h.send(ch, frame)
		}
	}
}

// send must be called with h.mu held so that Leave cannot close ch
// underneath it.
func (h *Hub) send(ch chan models.ServerFrame, frame models.ServerFrame) {
	select {
	case ch <- frame:
	default:
		slog.Warn("session buffer full, dropping frame", "type", frame.Type)
	}
}
