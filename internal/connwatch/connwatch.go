// Package connwatch tracks the health of long-lived connections to
// external services.
//
// It provides the exponential backoff schedule used between reconnect
// attempts (1s, 2s, 4s, ... capped at 30s, reset on success) and a
// [Manager] that aggregates per-service [ServiceStatus] values for the
// health endpoint. Reconnection itself is driven by the owner of the
// connection; connwatch only decides how long to wait.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay after the first failure (default: 1s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each failure (default: 2.0).
	Multiplier float64
}

// DefaultBackoffConfig returns the broker reconnect schedule:
// 1s, 2s, 4s, 8s, 16s, 30s (capped).
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// withDefaults replaces zero-value fields with defaults.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// Backoff is the retry delay state of one connection. It is not safe
// for concurrent use; the goroutine that owns the connection owns its
// Backoff.
type Backoff struct {
	cfg     BackoffConfig
	current time.Duration
}

// NewBackoff returns a Backoff positioned at the initial delay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, current: cfg.InitialDelay}
}

// Current returns the delay the next call to [Backoff.Next] will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the delay to wait after a failure and grows the delay
// for the failure after that, up to the ceiling.
func (b *Backoff) Next() time.Duration {
	d := b.current
	grown := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if grown > b.cfg.MaxDelay {
		grown = b.cfg.MaxDelay
	}
	b.current = grown
	return d
}

// Reset returns the delay to its initial value. Call it on every
// successful connection.
func (b *Backoff) Reset() {
	b.current = b.cfg.InitialDelay
}

// SleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ServiceStatus is the health status of a watched service, suitable for
// JSON serialization in health endpoints.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	State     string    `json:"state,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// StatusReporter is implemented by anything that can describe its own
// health.
type StatusReporter interface {
	Status() ServiceStatus
}

// Manager aggregates the status of several services.
type Manager struct {
	mu       sync.RWMutex
	services map[string]StatusReporter
	logger   *slog.Logger
}

// NewManager creates an empty status manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		services: make(map[string]StatusReporter),
		logger:   logger,
	}
}

// Register adds a service under name, replacing any previous one.
//
// Panics if name is empty or r is nil; both are programming errors.
func (m *Manager) Register(name string, r StatusReporter) {
	if name == "" {
		panic("connwatch: service name must not be empty")
	}
	if r == nil {
		panic("connwatch: StatusReporter must not be nil")
	}

	m.mu.Lock()
	m.services[name] = r
	m.mu.Unlock()

	m.logger.Debug("service registered for health reporting", "service", name)
}

// Names returns the registered service names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the health status of all registered services, keyed
// by registered name.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.services))
	for name, r := range m.services {
		s := r.Status()
		s.Name = name
		status[name] = s
	}
	return status
}

// Ready reports whether every registered service is ready.
func (m *Manager) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}
