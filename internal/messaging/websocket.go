package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"instantlly/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
}

type wsDialer func(ctx context.Context, url string) (wsConnection, error)

func gorillaDialer(d *websocket.Dialer) wsDialer {
	return func(ctx context.Context, url string) (wsConnection, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// websocketURL rewrites the gateway root to its /ws endpoint.
func websocketURL(serverURL string) (string, error) {
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
		return "", fmt.Errorf("invalid server url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url: missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// wsSession is one authenticated WebSocket connection.
type wsSession struct {
	conn    wsConnection
	writeMu sync.Mutex
	once    sync.Once
}

func (s *wsSession) write(frame models.ClientFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *wsSession) close() {
	s.once.Do(func() { _ = s.conn.Close() })
}

// openWebSocket dials the gateway and blocks until auth_success, an auth
// rejection, or ctx ends.
func (c *Client) openWebSocket(ctx context.Context, userID, token, deviceID string) (*wsSession, error) {
	endpoint, err := websocketURL(c.serverURL)
	if err != nil {
		return nil, err
	}
	conn, err := c.dialWS(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	session := &wsSession{conn: conn}

	stop := context.AfterFunc(ctx, session.close)
	defer stop()

	if err := session.write(models.ClientFrame{
		Type:     models.ClientFrameAuth,
		UserID:   userID,
		DeviceID: deviceID,
		Token:    token,
	}); err != nil {
		session.close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			session.close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("await auth: %w", err)
		}

		var frame models.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case models.ServerFrameAuthSuccess:
			if !stop() {
				return nil, ctx.Err()
			}
			return session, nil
		case models.ServerFrameAuthError:
			session.close()
			return nil, ErrAuthRejected
		default:
			c.handleFrame(frame.Type, frame.Data)
		}
	}
}

func (c *Client) readLoop(session *wsSession, gen uint64) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			session.close()
			c.scheduleReconnect(session, gen, err)
			return
		}

		var frame models.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.handleFrame(frame.Type, frame.Data)
	}
}
