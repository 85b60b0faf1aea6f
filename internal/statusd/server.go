package statusd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"conductor/pkg/logger"
)

// LinkSnapshot is one link's point-in-time state.
type LinkSnapshot struct {
	ComponentID string `json:"component_id"`
	Position    string `json:"position"`
	DownPending int    `json:"down_pending"`
	UpPending   int    `json:"up_pending"`
}

// ChainSnapshot is the whole chain's point-in-time state.
type ChainSnapshot struct {
	Links []LinkSnapshot `json:"links"`
}

// Inspector is implemented by whatever owns the running chain (the
// conductor) to let the status server read its state without the
// status server importing the conductor package.
type Inspector interface {
	Snapshot() ChainSnapshot
}

// Server is the read-only HTTP+WS observability server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub
	inspector  Inspector
}

// NewServer builds a status server bound to addr, backed by inspector
// for /chain and hub for /feed. It does not start listening until Start
// is called.
func NewServer(addr string, inspector Inspector, hub *Hub) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:    router,
		hub:       hub,
		inspector: inspector,
	}

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/chain", s.handleChain).Methods(http.MethodGet)
	router.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		serveFeed(s.hub, w, r)
	})

	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	snapshot := s.inspector.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		logger.Warnf("statusd: encode chain snapshot: %v", err)
	}
}

// Start runs the hub and begins serving. It blocks until the server
// stops, returning nil on a clean Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()

	logger.Infof("statusd: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusd: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
