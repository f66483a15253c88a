package socketio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
)

type ServerOptions struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// OnConnection is called once the namespace CONNECT is acknowledged,
	// before any event of the socket is dispatched.
	OnConnection func(s *Socket)
	CheckOrigin  func(r *http.Request) bool
	Logger       *slog.Logger
}

// Server accepts Socket.IO clients on the websocket transport only.
type Server struct {
	opts     ServerOptions
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(opts ServerOptions) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		log:      logger.With("component", "socketio"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" || q.Get("transport") != "websocket" {
		http.Error(w, "only EIO=4 over websocket is supported", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sock := &Socket{
		ID:       uuid.NewString(),
		conn:     conn,
		request:  r,
		handlers: make(map[string]func(json.RawMessage)),
	}

	open, err := json.Marshal(OpenPayload{
		SID:          sock.ID,
		Upgrades:     []string{},
		PingInterval: s.opts.PingInterval.Milliseconds(),
		PingTimeout:  s.opts.PingTimeout.Milliseconds(),
		MaxPayload:   1e6,
	})
	if err != nil {
		return
	}
	if err := sock.write(append([]byte{byte(EngineOpen)}, open...)); err != nil {
		return
	}

	keepalive := s.opts.PingInterval + s.opts.PingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(keepalive))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if len(data) < 2 || EngineType(data[0]) != EngineMessage {
		return
	}
	p, err := DecodePacket(data[1:])
	if err != nil || p.Type != PacketConnect {
		return
	}
	if p.Namespace != defaultNamespace {
		_ = sock.write(EncodePacket(Packet{
			Type:      PacketConnectError,
			Namespace: p.Namespace,
			Data:      json.RawMessage(`{"message":"Invalid namespace"}`),
		}))
		return
	}
	sock.auth = p.Data

	ack, _ := json.Marshal(map[string]string{"sid": sock.ID})
	if err := sock.write(EncodePacket(Packet{Type: PacketConnect, Data: ack})); err != nil {
		return
	}

	if s.opts.OnConnection != nil {
		s.opts.OnConnection(sock)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sock.write([]byte{byte(EnginePing)}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	reason := s.readLoop(sock, keepalive)
	sock.fireDisconnect(reason)
}

func (s *Server) readLoop(sock *Socket, keepalive time.Duration) string {
	for {
		_ = sock.conn.SetReadDeadline(time.Now().Add(keepalive))
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			if sock.isClosed() {
				return "server namespace disconnect"
			}
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return "ping timeout"
			}
			return "transport close"
		}
		if len(data) == 0 {
			continue
		}

		switch EngineType(data[0]) {
		case EnginePong, EngineNoop:
		case EnginePing:
			_ = sock.write([]byte{byte(EnginePong)})
		case EngineClose:
			return "transport close"
		case EngineMessage:
			p, err := DecodePacket(data[1:])
			if err != nil {
				s.log.Warn("dropping malformed packet", "sid", sock.ID, "error", err)
				continue
			}
			switch p.Type {
			case PacketDisconnect:
				return "client namespace disconnect"
			case PacketEvent:
				name, payload, err := p.Event()
				if err != nil {
					s.log.Warn("dropping malformed event", "sid", sock.ID, "error", err)
					continue
				}
				sock.dispatch(name, payload)
			}
		}
	}
}

// Socket is one connected client of a Server.
type Socket struct {
	ID      string
	conn    *websocket.Conn
	request *http.Request
	auth    json.RawMessage

	writeMu sync.Mutex

	mu           sync.Mutex
	handlers     map[string]func(json.RawMessage)
	onDisconnect []func(reason string)
	closed       bool
	disconnected bool
}

// Auth returns the payload of the client's CONNECT packet, if any.
func (s *Socket) Auth() json.RawMessage {
	return s.auth
}

func (s *Socket) Request() *http.Request {
	return s.request
}

// On sets the handler of an event, replacing any previous one.
func (s *Socket) On(event string, handler func(payload json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

func (s *Socket) OnDisconnect(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

func (s *Socket) Emit(event string, payload any) error {
	if s.isClosed() {
		return ErrClosed
	}
	p, err := NewEvent(event, payload)
	if err != nil {
		return err
	}
	return s.write(EncodePacket(p))
}

// Disconnect removes the client from the namespace and closes the transport.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.write(EncodePacket(Packet{Type: PacketDisconnect}))
	return s.conn.Close()
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Socket) dispatch(event string, payload json.RawMessage) {
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (s *Socket) fireDisconnect(reason string) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	s.closed = true
	callbacks := append([]func(string){}, s.onDisconnect...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}
