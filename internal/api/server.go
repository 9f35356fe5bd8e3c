// Package api implements the optional read-only HTTP status API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/nugget/system-monitor/internal/buildinfo"
	"github.com/nugget/system-monitor/internal/connwatch"
	"github.com/nugget/system-monitor/internal/events"
	"github.com/nugget/system-monitor/internal/report"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// HealthSource aggregates service status. [connwatch.Manager] satisfies it.
type HealthSource interface {
	Status() map[string]connwatch.ServiceStatus
	Ready() bool
}

// Server is the HTTP status server.
type Server struct {
	addr     string
	store    *report.Store
	health   HealthSource
	interval time.Duration
	logger   *slog.Logger
	events   *events.Bus
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a status server. interval paces the report stream.
func NewServer(addr string, store *report.Store, health HealthSource, interval time.Duration, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		health:   health,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetEventBus enables the /v1/events stream.
func (s *Server) SetEventBus(b *events.Bus) {
	s.events = b
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)
	r.Get("/v1/report", s.handleReport)
	r.Get("/v1/report/stream", s.handleReportStream)
	r.Get("/v1/events", s.handleEvents)
	return r
}

// Start serves until Shutdown is called. Request contexts derive from
// ctx, so cancelling it also ends open report streams.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting status API server", "address", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type healthResponse struct {
	Status   string                             `json:"status"`
	Uptime   string                             `json:"uptime"`
	Services map[string]connwatch.ServiceStatus `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Uptime:   buildinfo.Uptime().String(),
		Services: s.health.Status(),
	}
	code := http.StatusOK
	if !s.health.Ready() {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

type reportResponse struct {
	Timestamp time.Time     `json:"timestamp"`
	Report    report.Report `json:"report"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.store.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Timestamp: entry.Timestamp, Report: entry.Report}, s.logger)
}

// handleReportStream pushes the latest report over a websocket on every
// interval until the client goes away or the server shuts down.
func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainReads(conn, cancel)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last time.Time
	push := func() bool {
		entry, ok := s.store.Latest()
		if !ok || entry.Timestamp.Equal(last) {
			return true
		}
		last = entry.Timestamp
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reportResponse{Timestamp: entry.Timestamp, Report: entry.Report}); err != nil {
			s.logger.Debug("report stream write failed", "error", err)
			return false
		}
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			closeGoingAway(conn)
			return
		case <-ticker.C:
			if !push() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleEvents streams operational events from the bus as JSON
// messages. Slow clients miss events rather than stall publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.events.Subscribe(64)
	defer s.events.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainReads(conn, cancel)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			closeGoingAway(conn)
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drainReads processes control frames and calls cancel when the client
// goes away.
func drainReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeGoingAway(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}
