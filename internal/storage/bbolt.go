package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"instantlly/internal/auth"
	"instantlly/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketTokens        = []byte("tokens")
)

const (
	directPrefix = "dm:"
	groupPrefix  = "group:"
)

var _ auth.TokenStore = (*BboltStorage)(nil)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketTokens} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// DirectKey is the conversation key of a direct chat. It does not depend
// on which side sent the message.
func DirectKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return directPrefix + ids[0] + ":" + ids[1]
}

func GroupKey(groupID string) string {
	return groupPrefix + groupID
}

// ConversationKey picks the conversation a routed message belongs to.
func ConversationKey(msg models.Message) (string, error) {
	switch {
	case msg.GroupID != "":
		return GroupKey(msg.GroupID), nil
	case msg.ReceiverID != "":
		return DirectKey(msg.SenderID, msg.ReceiverID), nil
	default:
		return "", errors.New("message has neither receiver nor group")
	}
}

// AppendMessage stores message at the end of its conversation and returns
// the sequence number it was assigned.
func (s *BboltStorage) AppendMessage(message models.Message) (int64, error) {
	convKey, err := ConversationKey(message)
	if err != nil {
		return 0, err
	}

	var seq int64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(convKey))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		next, err := convBucket.NextSequence()
		if err != nil {
			return err
		}
		seq = int64(next)

		dbMessage := toDBMessage(seq, message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		dbConv := DBConversation{Key: convKey, LastSeq: seq, UpdatedAt: message.Timestamp}
		convData, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConversations).Put([]byte(convKey), convData)
	})
	return seq, err
}

// LastSeq returns the newest sequence number of a conversation.
func (s *BboltStorage) LastSeq(convKey string) (int64, error) {
	var lastSeq int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(convKey))
		if data == nil {
			return models.ErrNotFound
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		lastSeq = dbConv.LastSeq
		return nil
	})
	return lastSeq, err
}

// ListMessages returns conversation messages with sequence numbers in [from, to].
func (s *BboltStorage) ListMessages(convKey string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convKey))
		if convBucket == nil {
			return nil // No messages for this conversation
		}

		c := convBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))

		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// LastMessages returns up to n newest messages of a conversation, oldest first.
func (s *BboltStorage) LastMessages(convKey string, n int) ([]models.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	lastSeq, err := s.LastSeq(convKey)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	from := max(lastSeq-int64(n)+1, 1)
	return s.ListMessages(convKey, from, lastSeq)
}

func (s *BboltStorage) UpsertToken(token auth.StoredToken) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			Hash:      token.Hash,
			UserID:    token.UserID,
			ExpiresAt: token.ExpiresAt,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) ListTokens() ([]auth.StoredToken, error) {
	var tokens []auth.StoredToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt token record: %w", err)
			}
			tokens = append(tokens, auth.StoredToken{
				Hash:      dbToken.Hash,
				UserID:    dbToken.UserID,
				ExpiresAt: dbToken.ExpiresAt,
			})
			return nil
		})
	})
	return tokens, err
}
