package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultReconnectDelayMax = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("socket.io: not connected")
	ErrClosed       = errors.New("socket.io: client closed")
)

type Options struct {
	// Auth is sent with the namespace CONNECT packet.
	Auth              any
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	Dialer            *websocket.Dialer
	Header            http.Header
	Logger            *slog.Logger
}

// Client is a Socket.IO client bound to the default namespace. It keeps
// reconnecting until Close is called.
type Client struct {
	url  string
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	// nonzero while the loop goroutine is running user callbacks
	inCallback atomic.Int32

	writeMu sync.Mutex

	handlersMu   sync.RWMutex
	handlers     map[string][]func(json.RawMessage)
	onConnect    []func()
	onDisconnect []func(reason string)
}

// EndpointURL maps an http(s) server URL to its Engine.IO websocket endpoint.
func EndpointURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func New(serverURL string, opts Options) (*Client, error) {
	endpoint, err := EndpointURL(serverURL)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ReconnectDelayMax < opts.ReconnectDelay {
		opts.ReconnectDelayMax = max(DefaultReconnectDelayMax, opts.ReconnectDelay)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:      endpoint,
		opts:     opts,
		log:      logger.With("component", "socketio"),
		handlers: make(map[string][]func(json.RawMessage)),
	}, nil
}

// On registers a handler for a server event. Handlers run on the read
// goroutine in registration order.
func (c *Client) On(event string, handler func(payload json.RawMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OnConnect registers a callback fired after every successful namespace connect.
func (c *Client) OnConnect(fn func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Client) OnDisconnect(fn func(reason string)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Connect starts the background connection loop and returns immediately.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn, connected, closed := c.conn, c.connected, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !connected || conn == nil {
		return ErrNotConnected
	}

	p, err := NewEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(conn, EncodePacket(p))
}

// Close disconnects from the namespace and stops reconnecting. It waits
// for the connection loop to exit, except when a callback is running: the
// loop cannot finish while it is calling the caller, so Close then returns
// and the loop stops once the callback does.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel, done := c.conn, c.cancel, c.done
	c.mu.Unlock()

	if conn != nil {
		_ = c.write(conn, EncodePacket(Packet{Type: PacketDisconnect}))
	}
	if cancel != nil {
		cancel()
		if c.inCallback.Load() == 0 {
			<-done
		}
	}
	return nil
}

func (c *Client) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := c.opts.ReconnectDelay
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			delay = c.opts.ReconnectDelay
		}
		c.log.Debug("socket.io connection ended, reconnecting", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		delay = min(delay*2, c.opts.ReconnectDelayMax)
	}
}

// session runs one connection from dial to teardown.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	open, err := readOpen(conn)
	if err != nil {
		return false, err
	}
	keepalive := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	var auth json.RawMessage
	if c.opts.Auth != nil {
		if auth, err = json.Marshal(c.opts.Auth); err != nil {
			return false, fmt.Errorf("failed to encode auth: %w", err)
		}
	}
	if err := c.write(conn, EncodePacket(Packet{Type: PacketConnect, Data: auth})); err != nil {
		return false, err
	}

	reason := "transport close"
	for {
		if keepalive > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(keepalive))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if established {
				c.setDisconnected(reason)
			}
			return established, err
		}
		if len(data) == 0 {
			continue
		}

		switch EngineType(data[0]) {
		case EnginePing:
			if err := c.write(conn, []byte{byte(EnginePong)}); err != nil {
				if established {
					c.setDisconnected("transport error")
				}
				return established, err
			}
		case EngineClose:
			if established {
				c.setDisconnected("transport close")
			}
			return established, nil
		case EngineMessage:
			p, err := DecodePacket(data[1:])
			if err != nil {
				c.log.Warn("dropping malformed packet", "error", err)
				continue
			}
			switch p.Type {
			case PacketConnect:
				if !established {
					established = true
					c.setConnected(conn)
				}
			case PacketConnectError:
				return false, fmt.Errorf("connect rejected: %s", string(p.Data))
			case PacketDisconnect:
				if established {
					c.setDisconnected("io server disconnect")
				}
				return established, nil
			case PacketEvent:
				name, payload, err := p.Event()
				if err != nil {
					c.log.Warn("dropping malformed event", "error", err)
					continue
				}
				c.dispatch(name, payload)
			}
		}
	}
}

func readOpen(conn *websocket.Conn) (OpenPayload, error) {
	var open OpenPayload
	_, data, err := conn.ReadMessage()
	if err != nil {
		return open, fmt.Errorf("read open packet: %w", err)
	}
	if len(data) == 0 || EngineType(data[0]) != EngineOpen {
		return open, fmt.Errorf("%w: expected open packet", ErrMalformedPacket)
	}
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return open, fmt.Errorf("%w: open payload: %v", ErrMalformedPacket, err)
	}
	return open, nil
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setConnected(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.handlersMu.RLock()
	callbacks := append([]func(){}, c.onConnect...)
	c.handlersMu.RUnlock()
	c.inCallback.Add(1)
	defer c.inCallback.Add(-1)
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Client) setDisconnected(reason string) {
	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.handlersMu.RLock()
	callbacks := append([]func(string){}, c.onDisconnect...)
	c.handlersMu.RUnlock()
	c.inCallback.Add(1)
	defer c.inCallback.Add(-1)
	for _, fn := range callbacks {
		fn(reason)
	}
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.handlersMu.RLock()
	handlers := append([]func(json.RawMessage){}, c.handlers[event]...)
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("no handler for event", "event", event)
		return
	}
	c.inCallback.Add(1)
	defer c.inCallback.Add(-1)
	for _, h := range handlers {
		h(payload)
	}
}
