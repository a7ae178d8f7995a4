// Package web exposes events, themes, import/export and notification tests
// over a JSON HTTP API.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"countdown/internal/auth"
	"countdown/internal/clock"
	"countdown/internal/config"
	appLog "countdown/internal/log"
	"countdown/internal/model"
	"countdown/internal/notify"
	"countdown/internal/theme"
)

const shutdownTimeout = 5 * time.Second

// EventStore is the part of the store the API uses.
type EventStore interface {
	Create(ctx context.Context, in model.EventInput) (string, error)
	List(ctx context.Context, activeOnly bool) ([]model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	Update(ctx context.Context, id string, p model.EventPatch) (bool, error)
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
	ListTriggers(ctx context.Context, eventID string) ([]model.SentTrigger, error)
}

// Options wires a Server.
type Options struct {
	Store  EventStore
	Themes *theme.Manager
	Sink   notify.Sink
	Clock  clock.Clocker
	// Location decides what "today" is; defaults to time.Local.
	Location *time.Location
	// BasicAuth, when it carries both a username and a password, protects
	// everything except /health.
	BasicAuth *config.BasicAuthConfig
}

// Server provides the HTTP API.
type Server struct {
	store     EventStore
	themes    *theme.Manager
	sink      notify.Sink
	clock     clock.Clocker
	basicAuth *config.BasicAuthConfig
	mux       *http.ServeMux

	mu  sync.RWMutex
	loc *time.Location
}

// NewServer constructs a new Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("web: store is required")
	}
	if opts.Themes == nil {
		return nil, errors.New("web: theme manager is required")
	}

	s := &Server{
		store:     opts.Store,
		themes:    opts.Themes,
		sink:      opts.Sink,
		clock:     opts.Clock,
		basicAuth: opts.BasicAuth,
		mux:       http.NewServeMux(),
		loc:       opts.Location,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.loc == nil {
		s.loc = time.Local
	}

	s.registerRoutes()
	return s, nil
}

// SetLocation changes the zone used to compute today's date.
func (s *Server) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

// today is the current instant in the configured zone.
func (s *Server) today() time.Time {
	s.mu.RLock()
	loc := s.loc
	s.mu.RUnlock()
	return s.clock.Now().In(loc)
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.basicAuth != nil && s.basicAuth.Username != "" && s.basicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
// The configured password may be an Argon2id hash.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.basicAuth.Username
	password := s.basicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !auth.Check(password, p) {
			appLog.Warn("failed auth attempt", "remote", r.RemoteAddr, "user", u)
			w.Header().Set("WWW-Authenticate", `Basic realm="Countdown", charset="UTF-8"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/past", s.handlePastEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("POST /api/events/{id}/restore", s.handleRestoreEvent)
	s.mux.HandleFunc("GET /api/events/{id}/triggers", s.handleEventTriggers)
	s.mux.HandleFunc("GET /api/next", s.handleNext)

	s.mux.HandleFunc("GET /api/export", s.handleExportJSON)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
	s.mux.HandleFunc("POST /api/import", s.handleImport)

	s.mux.HandleFunc("GET /api/themes", s.handleListThemes)
	s.mux.HandleFunc("POST /api/themes", s.handleSaveTheme)
	s.mux.HandleFunc("GET /api/theme", s.handleCurrentTheme)
	s.mux.HandleFunc("PUT /api/theme", s.handleSetTheme)
	s.mux.HandleFunc("GET /api/priorities", s.handlePriorities)

	s.mux.HandleFunc("POST /api/notifications/test", s.handleTestNotification)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
