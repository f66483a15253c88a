package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// Socket.IO v5 packet types, carried inside engine message packets.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
)

const defaultNamespace = "/"

var ErrMalformedPacket = errors.New("malformed packet")

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string
	AckID     *uint64
	Data      json.RawMessage
}

// OpenPayload is sent by the server in the engine open packet.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"` // Milliseconds
	PingTimeout  int64    `json:"pingTimeout"`  // Milliseconds
	MaxPayload   int64    `json:"maxPayload"`
}

// EncodePacket renders p as the text of an engine message frame.
func EncodePacket(p Packet) []byte {
	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != defaultNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.AckID != nil {
		b.WriteString(strconv.FormatUint(*p.AckID, 10))
	}
	b.Write(p.Data)
	return []byte(b.String())
}

// DecodePacket parses the body of an engine message frame, that is the
// frame text without its leading engine type.
func DecodePacket(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, ErrMalformedPacket
	}
	p := Packet{Type: PacketType(body[0]), Namespace: defaultNamespace}
	switch p.Type {
	case PacketConnect, PacketDisconnect, PacketEvent, PacketAck, PacketConnectError:
	default:
		return Packet{}, fmt.Errorf("%w: unknown packet type %q", ErrMalformedPacket, body[0])
	}
	rest := body[1:]

	if len(rest) > 0 && rest[0] == '/' {
		i := strings.IndexByte(string(rest), ',')
		if i < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:i])
		rest = rest[i+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseUint(string(rest[:digits]), 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: bad ack id: %v", ErrMalformedPacket, err)
		}
		p.AckID = &id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Packet{}, fmt.Errorf("%w: invalid json payload", ErrMalformedPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// NewEvent builds an EVENT packet on the default namespace.
func NewEvent(event string, payload any) (Packet, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Packet{}, fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return Packet{Type: PacketEvent, Namespace: defaultNamespace, Data: data}, nil
}

// Event splits an EVENT packet into its name and first argument.
func (p Packet) Event() (string, json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, fmt.Errorf("%w: not an event packet", ErrMalformedPacket)
	}
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil || len(args) == 0 {
		return "", nil, fmt.Errorf("%w: event payload must be a non-empty array", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name must be a string", ErrMalformedPacket)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}
