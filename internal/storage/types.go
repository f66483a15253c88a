package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"instantlly/internal/models"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBToken struct {
	Hash      string `msgpack:"hash"`
	UserID    string `msgpack:"userId"`
	ExpiresAt int64  `msgpack:"expiresAt"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Hash)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

// DBConversation tracks the newest sequence number of a conversation so
// history reads know where to start.
type DBConversation struct {
	Key       string `msgpack:"key"`
	LastSeq   int64  `msgpack:"lastSeq"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq         int64       `msgpack:"seq"`
	ID          string      `msgpack:"id"`
	Timestamp   int64       `msgpack:"timestamp"`
	SenderID    string      `msgpack:"senderId"`
	ReceiverID  string      `msgpack:"receiverId,omitempty"`
	GroupID     string      `msgpack:"groupId,omitempty"`
	Content     string      `msgpack:"content"`
	MessageType string      `msgpack:"messageType"`
	File        *DBFile     `msgpack:"file,omitempty"`
	Location    *DBLocation `msgpack:"location,omitempty"`
}

type DBFile struct {
	Name     string `msgpack:"name"`
	Size     int64  `msgpack:"size"`
	MimeType string `msgpack:"mimeType"`
	URL      string `msgpack:"url,omitempty"`
}

type DBLocation struct {
	Latitude  float64 `msgpack:"lat"`
	Longitude float64 `msgpack:"lng"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func toDBMessage(seq int64, msg models.Message) DBMessage {
	dbMsg := DBMessage{
		Seq:         seq,
		ID:          msg.ID,
		Timestamp:   msg.Timestamp,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		MessageType: string(msg.MessageType),
	}
	if msg.Metadata != nil {
		if f := msg.Metadata.File; f != nil {
			dbMsg.File = &DBFile{Name: f.Name, Size: f.Size, MimeType: f.MimeType, URL: f.URL}
		}
		if l := msg.Metadata.Location; l != nil {
			dbMsg.Location = &DBLocation{Latitude: l.Latitude, Longitude: l.Longitude}
		}
	}
	return dbMsg
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		GroupID:     m.GroupID,
		Content:     m.Content,
		MessageType: models.MessageType(m.MessageType),
		Timestamp:   m.Timestamp,
		Status:      models.StatusSent,
	}
	if m.File != nil || m.Location != nil {
		msg.Metadata = &models.Metadata{}
		if m.File != nil {
			msg.Metadata.File = &models.FileInfo{
				Name:     m.File.Name,
				Size:     m.File.Size,
				MimeType: m.File.MimeType,
				URL:      m.File.URL,
			}
		}
		if m.Location != nil {
			msg.Metadata.Location = &models.Location{
				Latitude:  m.Location.Latitude,
				Longitude: m.Location.Longitude,
			}
		}
	}
	return msg
}
