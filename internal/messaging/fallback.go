package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"instantlly/internal/models"
	"instantlly/internal/socketio"
)

const (
	eventUserOnline  = "user_online"
	eventSendMessage = "send_message"
)

type eventSocket interface {
	On(event string, handler func(payload json.RawMessage))
	OnConnect(fn func())
	OnDisconnect(fn func(reason string))
	Connect(ctx context.Context)
	Emit(event string, payload any) error
	Connected() bool
	Close() error
}

var _ eventSocket = (*socketio.Client)(nil)

type socketFactory func(serverURL string, auth any) (eventSocket, error)

func defaultSocketFactory(logger *slog.Logger) socketFactory {
	return func(serverURL string, auth any) (eventSocket, error) {
		sock, err := socketio.New(serverURL, socketio.Options{Auth: auth, Logger: logger})
		if err != nil {
			return nil, err
		}
		return sock, nil
	}
}

// startSocketIO installs a Socket.IO transport and lets it connect in the
// background; reconnects are left to the Socket.IO client.
func (c *Client) startSocketIO(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	userID, token := c.userID, c.token
	c.mu.Unlock()

	sock, err := c.newSocket(c.serverURL, map[string]string{"token": token})
	if err != nil {
		c.log.Error("socket.io setup failed", "error", err)
		c.mu.Lock()
		if gen == c.gen {
			c.state = disconnected{}
		}
		c.mu.Unlock()
		return
	}

	sock.OnConnect(func() {
		c.log.Info("connected", "mode", models.ModeSocketIO, "user_id", userID)
		if err := sock.Emit(eventUserOnline, map[string]string{"userId": userID}); err != nil {
			c.log.Warn("failed to announce user online", "error", err)
		}
	})
	sock.OnDisconnect(func(reason string) {
		c.log.Info("socket.io disconnected", "reason", reason)
	})
	for _, typ := range []models.ServerFrameType{
		models.ServerFrameNewMessage,
		models.ServerFramePresenceUpdate,
		models.ServerFrameMessageAck,
		models.ServerFrameError,
	} {
		sock.On(string(typ), func(payload json.RawMessage) {
			c.handleFrame(typ, payload)
		})
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.state = socketIOActive{socket: sock}
	c.mu.Unlock()

	sock.Connect(context.Background())
}
