package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-chat/internal/chat"
)

// shutdownTimeout bounds waiting for in-flight HTTP requests on shutdown
const shutdownTimeout = 15 * time.Second

// Server defines fields used in HTTP and websocket processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	ws            *wsHandler
	afterShutdown []func()
}

// NewServer returns new Server struct with provided zap.SugaredLogger, chat.Service and Authenticator
func NewServer(logger *zap.SugaredLogger, service *chat.Service, auth Authenticator, opts ...Option) (*Server, error) {
	h := &handler{
		logger:  logger,
		service: service,
	}

	cfg := &config{
		httpServer: &http.Server{
			Addr: "0.0.0.0:9000",
		},
		handlers: map[string]http.Handler{
			"/chats/initiate":  http.HandlerFunc(h.initiateChat),
			"/chats/group":     http.HandlerFunc(h.createGroup),
			"/chats/get":       http.HandlerFunc(h.getChat),
			"/chats/list":      http.HandlerFunc(h.listConversations),
			"/messages/add":    http.HandlerFunc(h.createMessage),
			"/messages/get":    http.HandlerFunc(h.getMessages),
			"/messages/delete": http.HandlerFunc(h.deleteMessage),
		},
		frameTimeout: 10 * time.Second,
	}

	// enforcing json first so the user supplied options wrap already validated handlers
	applyEnforcePostJson().apply(cfg)
	applyAuthenticate(auth, logger).apply(cfg)

	for _, opt := range opts {
		opt.apply(cfg)
	}

	ws := &wsHandler{
		logger:  logger,
		service: service,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tokens are not cookies, any origin presenting one is accepted
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub:          newHub(),
		frameTimeout: cfg.frameTimeout,
	}
	cfg.streams = map[string]http.Handler{
		"/ws":     http.HandlerFunc(ws.serveWS),
		"/health": http.HandlerFunc(health),
	}

	applyLog(logger.Desugar()).apply(cfg)
	registerHandlers().apply(cfg)

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		ws:            ws,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root http.Handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.Shutdown()

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	return nil
}

// Shutdown stops accepting requests, closes websocket connections and
// calls functions registered with RegisterAfterShutdown in registration order
func (s *Server) Shutdown() {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("srv.Shutdown: %v", err)
	}

	s.logger.Infof("Closing %d websocket connections", s.ws.hub.len())
	s.ws.hub.closeAll()
	s.logger.Info("HTTP server is stopped")

	for _, f := range s.afterShutdown {
		f()
	}
}
