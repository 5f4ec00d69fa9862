// Package server assembles the coordinator's HTTP surface: the WebSocket
// endpoint, the presence and notification read paths, the event intake for
// CRUD handlers, and the admin surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/openteams/pulse/internal/db"
	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/notify"
	"github.com/openteams/pulse/internal/observability"
	"github.com/openteams/pulse/internal/presence"
	"github.com/openteams/pulse/internal/reaper"
	"github.com/openteams/pulse/internal/realtime"
	"github.com/openteams/pulse/internal/registry"
	"github.com/openteams/pulse/internal/router"
)

// Config holds server configuration.
type Config struct {
	JWTSecret string
	Dispatch  dispatch.Config
	Reaper    reaper.Config
}

// Server owns the coordinator's components and HTTP router.
type Server struct {
	db       *db.DB
	mux      *chi.Mux
	registry *registry.Registry
	channels *router.Router
	presence *presence.Adapter
	notify   *notify.Store
	realtime *realtime.Service
	reaper   *reaper.Reaper

	httpServer *http.Server
}

// New wires the coordinator together.
func New(database *db.DB, cfg Config) *Server {
	reg := registry.New()
	channels := router.New()
	presenceAdapter := presence.NewAdapter(database, reg)
	notifyStore := notify.NewStore(database)

	rtService := realtime.NewService(reg, channels, presenceAdapter, notifyStore, realtime.Config{
		JWTSecret: cfg.JWTSecret,
		Dispatch:  cfg.Dispatch,
	})

	s := &Server{
		db:       database,
		mux:      chi.NewRouter(),
		registry: reg,
		channels: channels,
		presence: presenceAdapter,
		notify:   notifyStore,
		realtime: rtService,
		reaper:   reaper.New(cfg.Reaper, reg, rtService.Hub()),
	}
	s.setupRoutes()
	return s
}

// SetMetrics attaches metric instruments to the realtime hub.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.realtime.SetMetrics(m)
}

// Realtime returns the realtime service.
func (s *Server) Realtime() *realtime.Service {
	return s.realtime
}

func (s *Server) setupRoutes() {
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.mux.Use(log.RequestLogger)
	s.mux.Use(middleware.Recoverer)

	s.mux.Get("/health", s.handleHealth)

	// Realtime transport
	s.mux.Get("/realtime/v1/websocket", s.realtime.HandleWebSocket)

	// Presence read path for REST/UI bootstrap
	s.mux.Route("/presence/v1", func(r chi.Router) {
		r.Get("/workspaces/{workspaceID}", s.handleListOnline)
	})

	// Notification intake and read path
	s.mux.Route("/notifications/v1", func(r chi.Router) {
		r.Post("/", s.handleNotificationIntake)
		r.Get("/users/{userID}/unread", s.handleListUnread)
	})

	// Entity-change intake for CRUD command handlers
	s.mux.Route("/internal/v1", func(r chi.Router) {
		r.Post("/events", s.handleEntityEvent)
	})

	// Admin surface
	s.mux.Route("/admin/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
	})
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start launches the reaper and the HTTP listener.
func (s *Server) Start(addr string) error {
	s.reaper.Start(context.Background())
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	log.Info("server: listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the reaper, closes every realtime connection and shuts the
// HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reaper.Stop()
	s.realtime.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("server: response encode failed", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
