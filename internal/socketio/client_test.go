package socketio

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type echoServer struct {
	*httptest.Server
	sockets chan *Socket
	auths   chan json.RawMessage
	reasons chan string
}

func newEchoServer(t *testing.T, opts ServerOptions) *echoServer {
	t.Helper()
	es := &echoServer{
		sockets: make(chan *Socket, 10),
		auths:   make(chan json.RawMessage, 10),
		reasons: make(chan string, 10),
	}
	opts.OnConnection = func(s *Socket) {
		es.auths <- s.Auth()
		s.On("echo", func(payload json.RawMessage) {
			_ = s.Emit("echoed", payload)
		})
		s.OnDisconnect(func(reason string) {
			es.reasons <- reason
		})
		es.sockets <- s
	}
	es.Server = httptest.NewServer(NewServer(opts))
	t.Cleanup(es.Close)
	return es
}

func TestClient_ConnectEmitReceive(t *testing.T) {
	srv := newEchoServer(t, ServerOptions{})

	client, err := New(srv.URL, Options{Auth: map[string]string{"token": "secret"}})
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	client.OnConnect(func() { connected <- struct{}{} })

	received := make(chan json.RawMessage, 1)
	client.On("echoed", func(payload json.RawMessage) { received <- payload })

	client.Connect(context.Background())
	defer func() { _ = client.Close() }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}
	require.True(t, client.Connected())

	select {
	case auth := <-srv.auths:
		require.JSONEq(t, `{"token":"secret"}`, string(auth))
	case <-time.After(time.Second):
		t.Fatal("server did not see connection")
	}

	require.NoError(t, client.Emit("echo", map[string]string{"hello": "world"}))

	select {
	case payload := <-received:
		require.JSONEq(t, `{"hello":"world"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}
}

func TestClient_EmitBeforeConnect(t *testing.T) {
	client, err := New("http://127.0.0.1:1", Options{})
	require.NoError(t, err)
	require.ErrorIs(t, client.Emit("x", nil), ErrNotConnected)

	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Emit("x", nil), ErrClosed)
}

func TestClient_AnswersPings(t *testing.T) {
	srv := newEchoServer(t, ServerOptions{
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  50 * time.Millisecond,
	})

	client, err := New(srv.URL, Options{})
	require.NoError(t, err)
	client.Connect(context.Background())
	defer func() { _ = client.Close() }()

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	// Several ping intervals pass; a client that did not pong would be dropped.
	time.Sleep(300 * time.Millisecond)
	require.True(t, client.Connected())
	select {
	case reason := <-srv.reasons:
		t.Fatalf("unexpected disconnect: %s", reason)
	default:
	}
}

func TestClient_Reconnects(t *testing.T) {
	srv := newEchoServer(t, ServerOptions{})

	client, err := New(srv.URL, Options{ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	var mu sync.Mutex
	var connects int
	disconnected := make(chan string, 1)
	client.OnConnect(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})
	client.OnDisconnect(func(reason string) {
		select {
		case disconnected <- reason:
		default:
		}
	})

	client.Connect(context.Background())
	defer func() { _ = client.Close() }()

	var first *Socket
	select {
	case first = <-srv.sockets:
	case <-time.After(2 * time.Second):
		t.Fatal("no first connection")
	}

	require.NoError(t, first.Disconnect())

	select {
	case reason := <-disconnected:
		require.Equal(t, "io server disconnect", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice disconnect")
	}

	select {
	case <-srv.sockets:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CloseNotifiesServer(t *testing.T) {
	srv := newEchoServer(t, ServerOptions{})

	client, err := New(srv.URL, Options{})
	require.NoError(t, err)
	client.Connect(context.Background())
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.False(t, client.Connected())

	select {
	case reason := <-srv.reasons:
		require.Contains(t, []string{"client namespace disconnect", "transport close"}, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see disconnect")
	}
}

func TestClient_CloseFromHandler(t *testing.T) {
	srv := newEchoServer(t, ServerOptions{})

	client, err := New(srv.URL, Options{})
	require.NoError(t, err)

	closed := make(chan error, 1)
	client.On("echoed", func(json.RawMessage) {
		closed <- client.Close()
	})
	client.Connect(context.Background())
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Emit("echo", "bye"))

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close from an event handler did not return")
	}
	require.Eventually(t, func() bool { return !client.Connected() }, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, client.Emit("echo", nil), ErrClosed)
}
