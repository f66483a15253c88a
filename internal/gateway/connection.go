package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"instantlly/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type frameHub interface {
	Join(userID string) (string, chan models.ServerFrame)
	Leave(userID, sessionID string)
	Dispatch(senderID, sessionID string, p models.SendMessagePayload) (models.Message, error)
}

// Connection pumps frames of one authenticated raw WebSocket client.
type Connection struct {
	ws         wsConnection
	hub        frameHub
	userID     string
	sessionID  string
	fromClient chan models.ClientFrame
	fromServer chan models.ServerFrame
	errorCh    chan error
}

func NewConnection(
	hub frameHub,
	ws wsConnection,
	userID string,
) *Connection {
	sessionID, fromServer := hub.Join(userID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		sessionID:  sessionID,
		fromClient: make(chan models.ClientFrame),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.sessionID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame models.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := c.processClientFrame(frame); err != nil {
				return err
			}
		case frame, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientFrame(frame models.ClientFrame) error {
	switch frame.Type {
	case models.ClientFrameAuth:
		// already authenticated
	case models.ClientFrameSendMessage:
		if _, err := c.hub.Dispatch(c.userID, c.sessionID, frame.SendMessagePayload); err != nil {
			slog.Warn("rejected message", "user_id", c.userID, "error", err)
			return c.writeError(err.Error())
		}
	default:
		return c.writeError("unknown frame type: " + string(frame.Type))
	}

	return nil
}

func (c *Connection) writeError(message string) error {
	frame, err := models.NewServerFrame(models.ServerFrameError, models.ErrorPayload{Message: message})
	if err != nil {
		return err
	}
	return c.ws.WriteJSON(frame)
}
