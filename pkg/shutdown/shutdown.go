// Package shutdown orchestrates graceful service shutdown.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default time allowed for graceful shutdown.
const DefaultTimeout = 30 * time.Second

// Handler is called during shutdown with the provided context.
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Group runs named shutdown handlers in LIFO order.
// Components register as they start, so they stop in reverse start order.
type Group struct {
	timeout time.Duration

	mu       sync.Mutex
	handlers []namedHandler
}

// NewGroup creates a Group. A non-positive timeout selects DefaultTimeout.
func NewGroup(timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{timeout: timeout}
}

// Register adds a shutdown handler under name.
func (g *Group) Register(name string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, namedHandler{name: name, fn: h})
}

// Shutdown executes all registered handlers in LIFO order and clears them.
// Returns a combined error if any handler fails.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	handlers := g.handlers
	g.handlers = nil
	g.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := h.fn(ctx); err != nil {
			slog.ErrorContext(ctx, "shutdown step failed",
				slog.String("step", h.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("shutdown %s: %w", h.name, err))
			continue
		}
		slog.DebugContext(ctx, "shutdown step completed", slog.String("step", h.name))
	}
	return errors.Join(errs...)
}

// WaitForSignal blocks until SIGINT or SIGTERM is received or ctx is done,
// then calls Shutdown with a fresh context bounded by the group timeout.
func (g *Group) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	slog.Info("shutting down", slog.Duration("timeout", g.timeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	return g.Shutdown(shutdownCtx)
}
