// Package health aggregates readiness checks and exposes them over the gRPC
// health protocol (via connectrpc.com/grpchealth) and plain HTTP probes.
//
// Registered checkers are probed in parallel at a fixed interval. The
// aggregate is serving only if every check passes; each checker is also
// published as its own gRPC health service name.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
)

// Checker checks the readiness of a dependency.
type Checker interface {
	// Check returns true if the dependency is ready.
	// The context carries the configured timeout.
	Check(ctx context.Context) bool
}

// CheckerFunc allows simple functions to be used as Checker.
type CheckerFunc func(ctx context.Context) bool

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context) bool {
	return f(ctx)
}

// Config holds configuration for the health monitor.
type Config struct {
	// Interval between check cycles.
	Interval time.Duration `koanf:"interval"`

	// Timeout for each individual check.
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Report is the outcome of the latest check cycle.
type Report struct {
	Serving bool            `json:"serving"`
	Checks  map[string]bool `json:"checks"`
}

// Monitor probes registered checkers and publishes the aggregate status.
// It starts not serving until the first cycle completes.
type Monitor struct {
	cfg     Config
	checker *grpchealth.StaticChecker

	mu       sync.RWMutex
	checkers map[string]Checker
	report   Report
}

// NewMonitor creates a health monitor. Zero Config fields take their
// DefaultConfig values.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	checker := grpchealth.NewStaticChecker()
	checker.SetStatus("", grpchealth.StatusNotServing)

	return &Monitor{
		cfg:      cfg,
		checker:  checker,
		checkers: make(map[string]Checker),
		report:   Report{Checks: map[string]bool{}},
	}
}

// Register adds a checker under name. The name doubles as the gRPC health
// service name for that check.
func (m *Monitor) Register(name string, c Checker) error {
	if name == "" {
		return fmt.Errorf("register health checker: %w", ErrEmptyName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("register health checker %q: %w", name, ErrDuplicateName)
	}
	m.checkers[name] = c
	m.checker.SetStatus(name, grpchealth.StatusNotServing)
	return nil
}

// Handler returns the path and handler for the gRPC health endpoint.
func (m *Monitor) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return grpchealth.NewHandler(m.checker, opts...)
}

// ReadyHandler answers 200 with the latest Report while serving, 503 otherwise.
func (m *Monitor) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := m.Report()

		status := http.StatusOK
		if !report.Serving {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}

// Run probes immediately, then every Interval, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// IsServing returns the current aggregate status.
func (m *Monitor) IsServing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report.Serving
}

// Report returns a copy of the latest check results.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]bool, len(m.report.Checks))
	for name, ok := range m.report.Checks {
		checks[name] = ok
	}
	return Report{Serving: m.report.Serving, Checks: checks}
}

func (m *Monitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	results := make(map[string]bool, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()

			healthy := safeCheck(checkCtx, name, c)

			resultsMu.Lock()
			results[name] = healthy
			resultsMu.Unlock()
		}()
	}
	wg.Wait()

	serving := true
	for _, healthy := range results {
		if !healthy {
			serving = false
			break
		}
	}

	m.update(Report{Serving: serving, Checks: results})
}

// safeCheck executes a check with panic recovery.
func safeCheck(ctx context.Context, name string, c Checker) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "health check panicked",
				slog.String("check", name),
				slog.Any("panic", r),
			)
			healthy = false
		}
	}()
	return c.Check(ctx)
}

func (m *Monitor) update(report Report) {
	m.mu.Lock()
	changed := m.report.Serving != report.Serving
	m.report = report
	m.mu.Unlock()

	for name, healthy := range report.Checks {
		m.checker.SetStatus(name, statusOf(healthy))
	}
	m.checker.SetStatus("", statusOf(report.Serving))

	if changed {
		slog.Info("health status changed",
			slog.Bool("serving", report.Serving),
			slog.Any("checks", report.Checks),
		)
	}
}

func statusOf(healthy bool) grpchealth.Status {
	if healthy {
		return grpchealth.StatusServing
	}
	return grpchealth.StatusNotServing
}
