package gateway

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"instantlly/internal/models"
	"instantlly/internal/socketio"
)

const authTimeout = 10 * time.Second

type tokenVerifier interface {
	UserID(token string) (string, error)
	Verify(userID, token string) error
}

// Server terminates both realtime transports and feeds them into one Hub.
type Server struct {
	auth     tokenVerifier
	hub      *Hub
	upgrader *websocket.Upgrader
	sio      *socketio.Server
}

type ServerOptions struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func NewServer(auth tokenVerifier, hub *Hub, opts ServerOptions) *Server {
	s := &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // mobile clients send no Origin
			},
		},
	}
	s.sio = socketio.NewServer(socketio.ServerOptions{
		PingInterval: opts.PingInterval,
		PingTimeout:  opts.PingTimeout,
		OnConnection: s.handleSocket,
	})
	return s
}

// SocketIO serves the fallback transport under /socket.io/.
func (s *Server) SocketIO() http.Handler {
	return s.sio
}

// HandleWebSocket serves /ws. The first frame must be an auth frame; the
// connection is closed after auth_error.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	defer func() {
		if err := ws.Close(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			slog.Debug("error closing websocket", "error", err)
		}
	}()

	_ = ws.SetReadDeadline(time.Now().Add(authTimeout))
	var frame models.ClientFrame
	if err := ws.ReadJSON(&frame); err != nil {
		slog.Debug("no auth frame", "remote", r.RemoteAddr, "error", err)
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	if frame.Type != models.ClientFrameAuth {
		_ = writeFrame(ws, models.ServerFrameAuthError, models.ErrorPayload{Message: "auth frame expected"})
		return
	}
	if err := s.auth.Verify(frame.UserID, frame.Token); err != nil {
		slog.Info("websocket auth rejected", "user_id", frame.UserID, "remote", r.RemoteAddr)
		_ = writeFrame(ws, models.ServerFrameAuthError, models.ErrorPayload{Message: "invalid token"})
		return
	}

	if err := writeFrame(ws, models.ServerFrameAuthSuccess, map[string]string{"userId": frame.UserID}); err != nil {
		return
	}
	slog.Info("websocket client connected", "user_id", frame.UserID, "device_id", frame.DeviceID)

	conn := NewConnection(s.hub, ws, frame.UserID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("websocket connection ended", "user_id", frame.UserID, "error", err)
	}
}

// handleSocket binds one Socket.IO client to the hub. The client proves
// its identity with the CONNECT auth token and joins on user_online.
func (s *Server) handleSocket(sock *socketio.Socket) {
	var creds struct {
		Token string `json:"token"`
	}
	if len(sock.Auth()) > 0 {
		_ = json.Unmarshal(sock.Auth(), &creds)
	}
	tokenUser, err := s.auth.UserID(creds.Token)
	if err != nil {
		slog.Info("socket.io auth rejected", "sid", sock.ID)
		_ = sock.Emit(string(models.ServerFrameError), models.ErrorPayload{Message: "invalid token"})
		_ = sock.Disconnect()
		return
	}

	// handlers and the disconnect callback run on the socket's read loop
	var userID, sessionID string

	sock.On("user_online", func(payload json.RawMessage) {
		var p struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil || p.UserID != tokenUser {
			_ = sock.Emit(string(models.ServerFrameError), models.ErrorPayload{Message: "user does not match token"})
			_ = sock.Disconnect()
			return
		}
		if sessionID != "" {
			return
		}

		var frames chan models.ServerFrame
		userID = p.UserID
		sessionID, frames = s.hub.Join(userID)
		go func() {
			for frame := range frames {
				if err := sock.Emit(string(frame.Type), frame.Data); err != nil {
					return
				}
			}
		}()
		slog.Info("socket.io client connected", "user_id", userID, "sid", sock.ID)
	})

	sock.On("send_message", func(payload json.RawMessage) {
		if sessionID == "" {
			_ = sock.Emit(string(models.ServerFrameError), models.ErrorPayload{Message: "user_online expected first"})
			return
		}
		var p models.SendMessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			_ = sock.Emit(string(models.ServerFrameError), models.ErrorPayload{Message: "malformed message"})
			return
		}
		if _, err := s.hub.Dispatch(userID, sessionID, p); err != nil {
			slog.Warn("rejected message", "user_id", userID, "error", err)
			_ = sock.Emit(string(models.ServerFrameError), models.ErrorPayload{Message: err.Error()})
		}
	})

	sock.OnDisconnect(func(reason string) {
		if sessionID != "" {
			s.hub.Leave(userID, sessionID)
		}
		slog.Info("socket.io client disconnected", "user_id", userID, "sid", sock.ID, "reason", reason)
	})
}

func writeFrame(ws *websocket.Conn, t models.ServerFrameType, payload any) error {
	frame, err := models.NewServerFrame(t, payload)
	if err != nil {
		return err
	}
	return ws.WriteJSON(frame)
}
