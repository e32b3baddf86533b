// Package server exposes the relay, the console API and the mock API over
// HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"apirelay/internal/auth"
	"apirelay/internal/config"
	"apirelay/internal/mockapi"
	"apirelay/internal/relay"
	"apirelay/internal/storage"
)

// envelopeSlack is what a proxy request may carry beyond the body cap for
// method, url and headers.
const envelopeSlack = 64 * 1024

// Server is the HTTP front of the process.
type Server struct {
	cfg     *config.Config
	relay   *relay.Relay
	store   storage.Store
	authn   *auth.Authenticator
	limiter *limiter
	log     *zap.Logger

	router  *mux.Router
	handler http.Handler
	server  *http.Server
}

// New wires the routes. store may be nil, in which case the console routes
// answer 503.
func New(cfg *config.Config, rl *relay.Relay, store storage.Store, authn *auth.Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if authn == nil {
		authn = auth.NewAuthenticator(auth.ModeNone, nil)
	}
	s := &Server{
		cfg:    cfg,
		relay:  rl,
		store:  store,
		authn:  authn,
		log:    log,
		router: mux.NewRouter(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	s.registerRoutes()
	s.handler = s.corsMiddleware(s.router)
	s.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           s.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.authMiddleware)

	proxy := api.Path("/proxy").Subrouter()
	proxy.Use(s.rateLimitMiddleware)
	proxy.Methods(http.MethodPost).HandlerFunc(s.handleProxy)
	proxy.NewRoute().HandlerFunc(s.handleProxyMethod)

	pm := api.PathPrefix("/postman").Subrouter()
	pm.HandleFunc("/view", s.handleView).Methods(http.MethodPost)

	send := pm.Path("/send").Subrouter()
	send.Use(s.rateLimitMiddleware)
	send.Methods(http.MethodPost).HandlerFunc(s.handleSend)

	user := pm.NewRoute().Subrouter()
	user.Use(s.requireUser)
	user.HandleFunc("/history", s.handleListHistory).Methods(http.MethodGet)
	user.HandleFunc("/history", s.handleAddHistory).Methods(http.MethodPost)
	user.HandleFunc("/history", s.handleClearHistory).Methods(http.MethodDelete)
	user.HandleFunc("/saved", s.handleListSaved).Methods(http.MethodGet)
	user.HandleFunc("/saved", s.handleSaveRequest).Methods(http.MethodPost)
	user.HandleFunc("/saved/{id}", s.handleDeleteSaved).Methods(http.MethodDelete)
	user.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)

	mockapi.Register(s.router)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("relay_base", s.cfg.BaseURL()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}
