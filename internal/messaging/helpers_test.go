package messaging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"instantlly/internal/models"
	"instantlly/internal/socketio"
)

type wsBehavior int

const (
	wsAccept wsBehavior = iota
	wsSilent
	wsReject
	wsMissing
)

type sioEvent struct {
	name    string
	payload json.RawMessage
}

// fakeGateway serves /ws and /socket.io/ the way the real gateway does,
// exposing everything it sees on channels.
type fakeGateway struct {
	*httptest.Server
	auths      chan models.ClientFrame
	frames     chan models.ClientFrame
	conns      chan *gwConn
	sioEvents  chan sioEvent
	sioAuths   chan json.RawMessage
	sioSockets chan *socketio.Socket
}

func newFakeGateway(t *testing.T, behavior wsBehavior) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		auths:      make(chan models.ClientFrame, 16),
		frames:     make(chan models.ClientFrame, 64),
		conns:      make(chan *gwConn, 16),
		sioEvents:  make(chan sioEvent, 64),
		sioAuths:   make(chan json.RawMessage, 16),
		sioSockets: make(chan *socketio.Socket, 16),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	if behavior != wsMissing {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			gc := &gwConn{Conn: conn, done: make(chan struct{})}
			defer func() {
				_ = conn.Close()
				close(gc.done)
			}()

			authed := false
			for {
				var frame models.ClientFrame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				if frame.Type == models.ClientFrameAuth && !authed {
					g.auths <- frame
					switch behavior {
					case wsAccept:
						authed = true
						if err := conn.WriteJSON(map[string]string{"type": "auth_success"}); err != nil {
							return
						}
						g.conns <- gc
					case wsReject:
						_ = conn.WriteJSON(map[string]string{"type": "auth_error", "message": "bad token"})
					}
					continue
				}
				g.frames <- frame
			}
		})
	}
	mux.Handle("/socket.io/", socketio.NewServer(socketio.ServerOptions{
		OnConnection: func(s *socketio.Socket) {
			g.sioAuths <- s.Auth()
			for _, name := range []string{"user_online", "send_message"} {
				s.On(name, func(payload json.RawMessage) {
					g.sioEvents <- sioEvent{name: name, payload: payload}
				})
			}
			g.sioSockets <- s
		},
	}))

	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

// gwConn is the server side of one client connection. done closes when
// the server's read loop ends.
type gwConn struct {
	*websocket.Conn
	done chan struct{}
}

func (c *gwConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not observe the close")
	}
}

func (g *fakeGateway) nextConn(t *testing.T) *gwConn {
	t.Helper()
	select {
	case conn := <-g.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no authenticated websocket connection")
		return nil
	}
}

func (g *fakeGateway) nextFrame(t *testing.T) models.ClientFrame {
	t.Helper()
	select {
	case f := <-g.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return models.ClientFrame{}
	}
}

func (g *fakeGateway) nextSIOEvent(t *testing.T) sioEvent {
	t.Helper()
	select {
	case e := <-g.sioEvents:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("no socket.io event received")
		return sioEvent{}
	}
}

func (g *fakeGateway) nextSocket(t *testing.T) *socketio.Socket {
	t.Helper()
	select {
	case s := <-g.sioSockets:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no socket.io connection")
		return nil
	}
}

func newTestClient(t *testing.T, serverURL string, opts Options) *Client {
	t.Helper()
	opts.ServerURL = serverURL
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 300 * time.Millisecond
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func writeFrame(t *testing.T, conn *gwConn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}
