package http

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"instantlly/internal/api"
	"instantlly/internal/auth"
	"instantlly/internal/gateway"
	"instantlly/internal/storage"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
	// cancels the contexts of hijacked realtime connections on shutdown
	cancel context.CancelFunc
}

func NewAPIServer(authService *auth.Service, hub *gateway.Hub, store *storage.BboltStorage, opts gateway.ServerOptions, addr string) *APIServer {
	server := gateway.NewServer(authService, hub, opts)
	apiHandlers := api.New(authService, store, hub)

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("GET /api/health", apiHandlers.HealthHandler)
	mux.HandleFunc("GET /api/chats/{peerId}/messages", apiHandlers.RequireAuth(apiHandlers.DirectHistoryHandler))
	mux.HandleFunc("GET /api/groups/{groupId}/messages", apiHandlers.RequireAuth(apiHandlers.GroupHistoryHandler))

	// Realtime endpoints
	mux.HandleFunc("/ws", server.HandleWebSocket)
	mux.Handle("/socket.io/", server.SocketIO())

	if addr == "" {
		addr = ":8080"
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &APIServer{
		server: &http.Server{
			Addr:        addr,
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return baseCtx },
		},
		cancel: cancel,
	}
}

func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener.
func (s *APIServer) Serve(ln net.Listener) error {
	log.Printf("Gateway started on %s", ln.Addr())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	defer s.cancel()
	return s.server.Shutdown(ctx)
}
