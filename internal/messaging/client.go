// Package messaging implements the unified realtime messaging client:
// a raw WebSocket connection to the gateway when it is reachable and a
// Socket.IO connection otherwise, behind one connect/send/subscribe API.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"instantlly/internal/cache"
	"instantlly/internal/models"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("messaging: not connected")
	ErrAuthRejected = errors.New("messaging: authentication rejected")
)

type Options struct {
	// ServerURL is the http(s) root of the gateway.
	ServerURL      string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	// Cache receives every sent and received message when set.
	Cache  *cache.Conversations
	Dialer *websocket.Dialer
}

// state is one of disconnected, connecting, websocketActive or
// socketIOActive. The client holds exactly one at a time.
type state interface {
	status() models.ConnectionStatus
}

type disconnected struct{}

type connecting struct {
	cancel context.CancelFunc
}

type websocketActive struct {
	session *wsSession
}

type socketIOActive struct {
	socket eventSocket
}

func (disconnected) status() models.ConnectionStatus {
	return models.ConnectionStatus{Mode: models.ModeDisconnected}
}

func (connecting) status() models.ConnectionStatus {
	return models.ConnectionStatus{Mode: models.ModeDisconnected}
}

func (websocketActive) status() models.ConnectionStatus {
	return models.ConnectionStatus{Mode: models.ModeWebSocket, Connected: true}
}

func (s socketIOActive) status() models.ConnectionStatus {
	return models.ConnectionStatus{Mode: models.ModeSocketIO, Connected: s.socket.Connected()}
}

type Client struct {
	serverURL      string
	connectTimeout time.Duration
	reconnectDelay time.Duration
	log            *slog.Logger
	cache          *cache.Conversations
	now            func() time.Time

	dialWS    wsDialer
	newSocket socketFactory

	messages registry[models.Message]
	presence registry[json.RawMessage]

	mu    sync.Mutex
	state state
	// gen changes on every Connect and Disconnect; attempts and reconnect
	// timers started under an older gen give up.
	gen       uint64
	userID    string
	token     string
	deviceID  string
	reconnect *time.Timer
}

func New(opts Options) (*Client, error) {
	if _, err := websocketURL(opts.ServerURL); err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger = logger.With("component", "messaging")

	return &Client{
		serverURL:      opts.ServerURL,
		connectTimeout: opts.ConnectTimeout,
		reconnectDelay: opts.ReconnectDelay,
		log:            logger,
		cache:          opts.Cache,
		now:            time.Now,
		dialWS:         gorillaDialer(dialer),
		newSocket:      defaultSocketFactory(logger),
		state:          disconnected{},
	}, nil
}

// Connect authenticates over WebSocket, falling back to Socket.IO when
// the WebSocket handshake fails or does not complete within the connect
// timeout. Transport failures are logged, not returned; the only error is
// the caller's context ending first.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	c.mu.Lock()
	cleanup := c.detachLocked()
	c.gen++
	gen := c.gen
	c.userID = userID
	c.token = token
	c.deviceID = NewDeviceID()
	c.mu.Unlock()

	cleanup()

	return c.establish(ctx, gen)
}

// Disconnect closes the active transport and cancels any pending
// reconnect. Subscribers stay registered.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cleanup := c.detachLocked()
	c.gen++
	c.userID = ""
	c.token = ""
	c.mu.Unlock()

	cleanup()
	c.log.Info("disconnected")
}

func (c *Client) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.status()
}

// OnMessage subscribes to inbound messages.
func (c *Client) OnMessage(fn func(models.Message)) (unsubscribe func()) {
	return c.messages.subscribe(fn)
}

// OnPresence subscribes to presence updates. The payload is forwarded as
// received.
func (c *Client) OnPresence(fn func(json.RawMessage)) (unsubscribe func()) {
	return c.presence.subscribe(fn)
}

// SendMessage sends a direct message and returns its id. Delivery is not
// confirmed to the caller.
func (c *Client) SendMessage(receiverID, content string, msgType models.MessageType) string {
	return c.Send(models.OutgoingMessage{
		ReceiverID:  receiverID,
		Content:     content,
		MessageType: msgType,
	})
}

// Send sends a direct or group message with optional metadata and returns
// its id. Failures are logged only.
func (c *Client) Send(out models.OutgoingMessage) string {
	if out.MessageType == "" {
		out.MessageType = models.MessageTypeText
	}
	now := c.now()
	id := NewMessageID(now)
	payload := models.SendMessagePayload{
		MessageID:   id,
		ReceiverID:  out.ReceiverID,
		GroupID:     out.GroupID,
		Content:     out.Content,
		MessageType: out.MessageType,
		Timestamp:   now.UnixMilli(),
		Metadata:    out.Metadata,
	}

	c.mu.Lock()
	st, self := c.state, c.userID
	c.mu.Unlock()

	var err error
	switch s := st.(type) {
	case websocketActive:
		err = s.session.write(models.ClientFrame{
			Type:               models.ClientFrameSendMessage,
			SendMessagePayload: payload,
		})
	case socketIOActive:
		err = s.socket.Emit(eventSendMessage, payload)
	default:
		err = ErrNotConnected
	}
	if err != nil {
		c.log.Warn("send failed", "message_id", id, "error", err)
		return id
	}

	if c.cache != nil {
		c.cache.Add(self, models.Message{
			ID:          id,
			LocalID:     id,
			SenderID:    self,
			ReceiverID:  out.ReceiverID,
			GroupID:     out.GroupID,
			Content:     out.Content,
			MessageType: out.MessageType,
			Timestamp:   payload.Timestamp,
			Status:      models.StatusSent,
			Metadata:    out.Metadata,
		})
	}
	return id
}

// History returns up to n cached messages of a conversation. ref is a
// peer id or "group:<id>".
func (c *Client) History(ref string, n int) []models.Message {
	if c.cache == nil {
		return []models.Message{}
	}
	return c.cache.Last(cache.ParseKey(ref), n)
}

func (c *Client) establish(ctx context.Context, gen uint64) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.state = connecting{cancel: cancel}
	userID, token, deviceID := c.userID, c.token, c.deviceID
	c.mu.Unlock()

	session, err := c.openWebSocket(attemptCtx, userID, token, deviceID)
	if err == nil {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			session.close()
			return nil
		}
		c.state = websocketActive{session: session}
		c.mu.Unlock()

		c.log.Info("connected", "mode", models.ModeWebSocket, "user_id", userID, "device_id", deviceID)
		go c.readLoop(session, gen)
		return nil
	}

	if ctx.Err() != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state = disconnected{}
		}
		c.mu.Unlock()
		return ctx.Err()
	}

	c.log.Warn("websocket unavailable, falling back to socket.io", "error", err)
	c.startSocketIO(gen)
	return nil
}

// detachLocked resets the client to disconnected and returns the work
// that must run after c.mu is released.
func (c *Client) detachLocked() func() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}

	st := c.state
	c.state = disconnected{}

	switch s := st.(type) {
	case connecting:
		return s.cancel
	case websocketActive:
		return s.session.close
	case socketIOActive:
		return func() {
			if err := s.socket.Close(); err != nil {
				c.log.Warn("socket.io close failed", "error", err)
			}
		}
	}
	return func() {}
}

// scheduleReconnect arms the fixed-delay reconnect after an authenticated
// WebSocket closed. There is no backoff and no retry limit.
func (c *Client) scheduleReconnect(session *wsSession, gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.userID == "" {
		return
	}
	active, ok := c.state.(websocketActive)
	if !ok || active.session != session {
		return
	}
	c.state = disconnected{}

	c.log.Info("websocket closed, reconnecting", "delay", c.reconnectDelay, "error", cause)
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if gen != c.gen || c.userID == "" {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.mu.Unlock()

		_ = c.establish(context.Background(), gen)
	})
}

func (c *Client) handleFrame(typ models.ServerFrameType, payload json.RawMessage) {
	switch typ {
	case models.ServerFrameNewMessage:
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Warn("dropping malformed message", "error", err)
			return
		}
		c.receive(msg)
	case models.ServerFramePresenceUpdate:
		c.presence.emit(payload)
	case models.ServerFrameMessageAck:
		var ack models.MessageAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			c.log.Warn("dropping malformed ack", "error", err)
			return
		}
		c.log.Debug("message acknowledged", "message_id", ack.MessageID)
		if c.cache != nil {
			c.cache.MarkStatus(ack.MessageID, models.StatusDelivered)
		}
	case models.ServerFrameAuthSuccess:
		c.log.Debug("already authenticated")
	case models.ServerFrameError:
		var e models.ErrorPayload
		_ = json.Unmarshal(payload, &e)
		c.log.Warn("gateway error", "message", e.Message)
	default:
		c.log.Warn("unknown frame type", "type", typ)
	}
}

func (c *Client) receive(msg models.Message) {
	if c.cache != nil {
		c.mu.Lock()
		self := c.userID
		c.mu.Unlock()
		c.cache.Add(self, msg)
	}
	c.messages.emit(msg)
}
