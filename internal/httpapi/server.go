// Package httpapi serves health, status and command endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/command"
	"github.com/dokzlo13/treelight/internal/eventbus"
	"github.com/dokzlo13/treelight/internal/ledger"
	"github.com/dokzlo13/treelight/internal/light"
)

const (
	maxCommandBytes = 64 << 10
	defaultHistory  = 50
	maxHistory      = 1000
)

// StatusSource provides the current light status.
type StatusSource interface {
	Snapshot() light.StatusReport
}

// Readiness reports whether the broker connection is up.
type Readiness interface {
	IsConnected() bool
}

// History lists recent ledger entries.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
}

// Options configures a Server. Nil History disables /history; nil Bus disables /command.
type Options struct {
	Addr              string
	Status            StatusSource
	Ready             Readiness
	History           History
	Bus               *eventbus.Bus
	WebsocketInterval time.Duration
}

// Server is the local HTTP API.
type Server struct {
	opts       Options
	router     *mux.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	done       chan struct{}
}

// NewServer creates a new server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.WebsocketInterval <= 0 {
		opts.WebsocketInterval = time.Second
	}
	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}

	s.router = mux.NewRouter()
	s.router.Use(logRequests)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	if opts.History != nil {
		s.router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	}
	if opts.Bus != nil {
		s.router.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.opts.Addr).Msg("Starting HTTP server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		close(s.done) // stops websocket writers, which Shutdown does not track
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "connecting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Status.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistory)
	}

	entries, err := s.opts.History.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCommand validates a payload and queues it exactly as if it arrived over MQTT.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	cmd, err := command.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "error": err.Error()})
		return
	}
	if _, ok := cmd.(command.Unrecognized); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "ignored", "error": "unrecognized command"})
		return
	}

	id := uuid.NewString()
	queued := s.opts.Bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeMessage,
		ID:       id,
		Source:   eventbus.SourceHTTP,
		Topic:    r.URL.Path,
		Payload:  body,
		Received: time.Now(),
	})
	if !queued {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dropped", "id": id})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id, "command": cmd.String()})
}

// handleWebsocket pushes the status to the client every interval (?poll=500ms overrides).
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	interval := s.opts.WebsocketInterval
	if v := r.URL.Query().Get("poll"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	log.Debug().Str("remote", conn.RemoteAddr().String()).Dur("interval", interval).Msg("Websocket subscribed")

	go s.streamStatus(conn, interval)
}

func (s *Server) streamStatus(conn *websocket.Conn, interval time.Duration) {
	defer conn.Close()

	// read pump: detects client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(interval + 5*time.Second))
		if err := conn.WriteJSON(s.opts.Status.Snapshot()); err != nil {
			log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Websocket connection lost")
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
