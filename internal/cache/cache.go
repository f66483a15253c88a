package cache

import (
	"context"
	"strings"
	"time"

	"github.com/c-pro/geche"

	"instantlly/internal/models"
)

const (
	DefaultMaxRecords = 200

	indexTTL = 30 * time.Minute

	directPrefix = "dm:"
	groupPrefix  = "group:"
)

// Conversations is the client's transient copy of recent messages.
// Nothing is persisted; the backend owns the durable history.
type Conversations struct {
	maxRecords int
	convs      *geche.Locker[string, *Conversation]
	// message id -> conversation key, for status updates
	index geche.Geche[string, string]
}

func New(ctx context.Context, maxRecords int) *Conversations {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Conversations{
		maxRecords: maxRecords,
		convs:      geche.NewLocker[string, *Conversation](geche.NewMapCache[string, *Conversation]()),
		index:      geche.NewMapTTLCache[string, string](ctx, indexTTL, time.Minute),
	}
}

// Key returns the conversation a message belongs to from self's point of view.
func Key(self string, msg models.Message) string {
	if msg.GroupID != "" {
		return GroupKey(msg.GroupID)
	}
	if msg.SenderID == self {
		return DirectKey(msg.ReceiverID)
	}
	return DirectKey(msg.SenderID)
}

func DirectKey(peerID string) string { return directPrefix + peerID }

func GroupKey(groupID string) string { return groupPrefix + groupID }

// ParseKey accepts either a bare peer id or a "group:<id>" reference.
func ParseKey(ref string) string {
	if strings.HasPrefix(ref, groupPrefix) || strings.HasPrefix(ref, directPrefix) {
		return ref
	}
	return DirectKey(ref)
}

// Add stores msg. A server echo carrying the LocalID of an optimistic copy
// replaces that copy instead of adding a duplicate.
func (c *Conversations) Add(self string, msg models.Message) {
	if msg.LocalID != "" {
		replaced := c.update(msg.LocalID, func(m *models.Message) {
			*m = msg
		})
		if replaced {
			if msg.ID != "" && msg.ID != msg.LocalID {
				c.index.Set(msg.ID, Key(self, msg))
			}
			return
		}
	}

	key := Key(self, msg)
	c.conversation(key).Add(msg)
	if msg.ID != "" {
		c.index.Set(msg.ID, key)
	}
}

// MarkStatus moves a cached message forward to status. Statuses never
// move backwards. Reports whether the message was found.
func (c *Conversations) MarkStatus(messageID string, status models.DeliveryStatus) bool {
	return c.update(messageID, func(m *models.Message) {
		if rank(status) > rank(m.Status) {
			m.Status = status
		}
	})
}

// Last returns up to n newest messages of a conversation, oldest first.
func (c *Conversations) Last(key string, n int) []models.Message {
	tx := c.convs.Lock()
	conv, err := tx.Get(key)
	tx.Unlock()
	if err != nil {
		return []models.Message{}
	}
	return conv.Last(n)
}

func (c *Conversations) update(messageID string, fn func(*models.Message)) bool {
	key, err := c.index.Get(messageID)
	if err != nil {
		return false
	}
	tx := c.convs.Lock()
	conv, err := tx.Get(key)
	tx.Unlock()
	if err != nil {
		return false
	}
	return conv.Update(func(m models.Message) bool {
		return m.ID == messageID || (m.LocalID != "" && m.LocalID == messageID)
	}, fn)
}

func (c *Conversations) conversation(key string) *Conversation {
	tx := c.convs.Lock()
	defer tx.Unlock()

	conv, err := tx.Get(key)
	if err == nil {
		return conv
	}
	conv = newConversation(key, c.maxRecords)
	tx.Set(key, conv)
	return conv
}

func rank(s models.DeliveryStatus) int {
	switch s {
	case models.StatusSent:
		return 1
	case models.StatusDelivered:
		return 2
	case models.StatusRead:
		return 3
	}
	return 0
}
