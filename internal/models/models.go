package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeLocation MessageType = "location"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeLocation:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Message represents a chat message as seen by the client.
// Exactly one of ReceiverID and GroupID is set for a routable message.
type Message struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"senderId"`
	ReceiverID  string         `json:"receiverId,omitempty"`
	GroupID     string         `json:"groupId,omitempty"`
	Content     string         `json:"content"`
	MessageType MessageType    `json:"messageType"`
	Timestamp   int64          `json:"timestamp"` // Unix milliseconds
	Status      DeliveryStatus `json:"status,omitempty"`
	LocalID     string         `json:"localId,omitempty"` // Set on optimistic copies only
	Metadata    *Metadata      `json:"metadata,omitempty"`
}

// Metadata carries either file info or coordinates.
type Metadata struct {
	File     *FileInfo `json:"file,omitempty"`
	Location *Location `json:"location,omitempty"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OutgoingMessage is what the application hands to the messaging client.
type OutgoingMessage struct {
	ReceiverID  string
	GroupID     string
	Content     string
	MessageType MessageType
	Metadata    *Metadata
}

// Presence is the payload the dev gateway broadcasts on presence changes.
type Presence struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"` // Unix timestamp (seconds)
}

type TransportMode string

const (
	ModeWebSocket    TransportMode = "websocket"
	ModeSocketIO     TransportMode = "socketio"
	ModeDisconnected TransportMode = "disconnected"
)

type ConnectionStatus struct {
	Mode      TransportMode `json:"mode"`
	Connected bool          `json:"connected"`
}

type ClientFrameType string

const (
	ClientFrameAuth        ClientFrameType = "auth"
	ClientFrameSendMessage ClientFrameType = "send_message"
)

// ClientFrame represents a frame sent from the client to the gateway
// over the raw WebSocket transport.
type ClientFrame struct {
	Type     ClientFrameType `json:"type"`
	UserID   string          `json:"userId,omitempty"`
	DeviceID string          `json:"deviceId,omitempty"`
	Token    string          `json:"token,omitempty"`
	SendMessagePayload
}

// SendMessagePayload is the body of a send_message frame and the
// argument of the Socket.IO send_message event.
type SendMessagePayload struct {
	MessageID   string      `json:"messageId,omitempty"`
	ReceiverID  string      `json:"receiverId,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	Content     string      `json:"content,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
}

type ServerFrameType string

const (
	ServerFrameAuthSuccess    ServerFrameType = "auth_success"
	ServerFrameAuthError      ServerFrameType = "auth_error"
	ServerFrameNewMessage     ServerFrameType = "new_message"
	ServerFramePresenceUpdate ServerFrameType = "presence_update"
	ServerFrameMessageAck     ServerFrameType = "message_ack"
	ServerFrameError          ServerFrameType = "error"
)

// ServerFrame represents a frame sent from the gateway to the client.
// Payload fields are flattened next to "type" on the WebSocket path;
// on the Socket.IO path Type becomes the event name and Data the argument.
type ServerFrame struct {
	Type ServerFrameType
	Data json.RawMessage
}

// MarshalJSON flattens Data into the frame object.
func (f ServerFrame) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &fields); err != nil {
			return nil, err
		}
	}
	typ, err := json.Marshal(f.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// UnmarshalJSON keeps the whole frame object as Data.
func (f *ServerFrame) UnmarshalJSON(b []byte) error {
	var head struct {
		Type ServerFrameType `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	f.Type = head.Type
	f.Data = append(f.Data[:0], b...)
	return nil
}

// NewServerFrame builds a frame from an arbitrary JSON object payload.
func NewServerFrame(t ServerFrameType, payload any) (ServerFrame, error) {
	if payload == nil {
		return ServerFrame{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ServerFrame{}, err
	}
	return ServerFrame{Type: t, Data: data}, nil
}

type MessageAck struct {
	MessageID string `json:"messageId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
