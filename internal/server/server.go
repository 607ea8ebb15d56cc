// Package server is a scripted stand-in for the assistant backend. It
// speaks the chat wire protocol over a websocket so the client can be
// developed and tested without the real service.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"registerkaro-chat/internal/config"
	"registerkaro-chat/internal/db"
	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/types"
)

const sessionScope = "stub-sessions"

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	script   *Script
	log      *zap.Logger
	upgrader websocket.Upgrader
	sessions store.KV
	database *db.DB
	newID    func() string

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Server)

func WithScript(sc *Script) Option { return func(s *Server) { s.script = sc } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithSessionStore keeps session to cookie mappings in kv instead of the
// database or memory.
func WithSessionStore(kv store.KV) Option { return func(s *Server) { s.sessions = kv } }

func NewServer(cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		newID: uuid.NewString,
		peers: make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("stub")

	if s.script == nil {
		sc, err := LoadScript(cfg.ScriptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load assistant script: %w", err)
		}
		s.script = sc
	}

	if s.sessions == nil {
		if cfg.DatabaseURL != "" {
			database, err := db.New(cfg.DatabaseURL, s.log)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize database: %w", err)
			}
			if err := database.Migrate(); err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			s.log.Info("database connection established", zap.String("driver", database.Driver()))
			s.database = database
			s.sessions = store.NewDatabaseStore(database, sessionScope)
		} else {
			s.log.Warn("DB_URL not provided, keeping sessions in memory")
			s.sessions = store.NewMemoryStore(1000)
		}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router = r
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/sessions/{sessionID}", s.handleSession)
	s.router.Get("/ws", s.handleWS)
}

func (s *Server) Router() http.Handler { return s.router }

// Close drops every open channel, waits for their handlers and releases
// the database.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	s.wg.Wait()
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.database != nil {
		if err := s.database.HealthCheck(); err != nil {
			s.log.Error("database health check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	cookieID, err := s.sessions.Get(sessionKey(sid))
	if err != nil {
		s.log.Error("session lookup failed", zap.String("session_id", sid), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if cookieID == "" {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.Identity{SessionID: sid, CookieID: cookieID})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	visitor := GetVisitorCookie(r)
	var header http.Header
	if visitor == "" {
		visitor = s.newID()
		header = visitorHeader(visitor, r.TLS != nil)
	}
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := newPeer(s, conn, visitor)
	if !s.track(p) {
		p.log.Debug("server closed during upgrade")
		p.close()
		return
	}
	defer s.untrack(p)

	p.serve()
}

// track registers p for Close. It reports false once the server is closed,
// since Close has already taken its snapshot of open channels.
func (s *Server) track(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) untrack(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowedOrigin == "" || s.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.cfg.AllowedOrigin
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

func sessionKey(sessionID string) string { return "session:" + sessionID }
