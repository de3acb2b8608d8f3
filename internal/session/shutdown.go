package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/forgesmith/codeforge/internal/logging"
)

// DefaultShutdownDeadline bounds how long ShutdownRegistry.Run waits for
// every registered handler to return.
const DefaultShutdownDeadline = 5 * time.Second

// ShutdownRegistry runs cleanup handlers in LIFO order within a deadline, a
// process-level graceful-shutdown manager. Grounded on the
// signal-then-single-shutdown-call pattern in cmd/codeforge/commands/serve.go,
// generalized from one hardcoded shutdown step (srv.Shutdown) into an
// ordered stack any number of components can register against.
type ShutdownRegistry struct {
	mu       sync.Mutex
	handlers []func(context.Context) error
}

// NewShutdownRegistry returns an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn to the top of the shutdown stack and returns a function
// that removes it again, for components whose lifetime ends before process
// shutdown (e.g. a session's End() releasing its own log-flush handler).
func (r *ShutdownRegistry) Register(fn func(context.Context) error) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, fn)
	idx := len(r.handlers) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.handlers) {
			r.handlers[idx] = nil
		}
	}
}

// Run executes every still-registered handler in LIFO order, within
// deadline. A handler that errors or panics is logged and does not stop the
// rest of the stack from running; terminal state restoration (the caller's
// responsibility, e.g. cursor visibility) must not depend on earlier
// handlers succeeding.
func (r *ShutdownRegistry) Run(deadline time.Duration) {
	r.mu.Lock()
	handlers := make([]func(context.Context) error, len(r.handlers))
	copy(handlers, r.handlers)
	r.handlers = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if h == nil {
			continue
		}
		if err := runHandler(ctx, h); err != nil {
			logging.Warn().Err(err).Msg("shutdown handler failed")
		}
	}
}

func runHandler(ctx context.Context, h func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown handler panicked: %v", r)
		}
	}()
	return h(ctx)
}

// ListenForShutdown blocks until SIGTERM (always) or SIGINT (only when
// interactive is false — an interactive terminal session handles Ctrl+C
// itself) arrives, then runs registry within deadline.
// Intended to be called from a long-running entrypoint's main goroutine.
func ListenForShutdown(registry *ShutdownRegistry, deadline time.Duration, interactive bool) {
	sigs := []os.Signal{syscall.SIGTERM}
	if !interactive {
		sigs = append(sigs, syscall.SIGINT)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, sigs...)
	<-quit

	logging.Info().Msg("shutting down")
	registry.Run(deadline)
}
