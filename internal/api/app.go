package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/config"
	"github.com/wfplatform/chat-service/internal/identity"
	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/server"
	"github.com/wfplatform/chat-service/internal/stats"
)

// ChatApp is the HTTP surface of the messaging core: the websocket
// endpoint plus the read-side REST routes used by clients that are not
// holding a socket.
type ChatApp struct {
	log      *zap.SugaredLogger
	pl       *pipeline.Pipeline
	hub      *server.Hub
	registry *server.Registry
	verifier identity.Verifier
	srv      *http.Server

	allowedOrigins []string
}

func NewChatApp(logger *zap.SugaredLogger, hub *server.Hub, registry *server.Registry, verifier identity.Verifier, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		pl:             hub.Pipeline(),
		hub:            hub,
		registry:       registry,
		verifier:       verifier,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /api/channels", s.authMiddleware(s.listChannels))
	mux.Handle("POST /api/channels", s.authMiddleware(s.createChannel))
	mux.Handle("GET /api/history", s.authMiddleware(s.getHistory))
	mux.Handle("GET /api/presence", s.authMiddleware(s.getPresence))
	mux.Handle("GET /debug/vars", stats.Handler())

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Start() error {
	s.log.Infow("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
