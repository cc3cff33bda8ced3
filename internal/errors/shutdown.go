package errors

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// GracefulShutdownHandler runs registered hooks newest first, once, on
// SIGINT/SIGTERM or when Shutdown is called
type GracefulShutdownHandler struct {
	mu      sync.Mutex
	hooks   []func() error
	stop    context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
	timeout time.Duration
}

// NewGracefulShutdownHandler creates a handler whose hooks must finish
// within timeout; zero means no bound
func NewGracefulShutdownHandler(timeout time.Duration) *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

// RegisterShutdownFunc adds a hook; later hooks run first
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.hooks = append(gsh.hooks, fn)
}

// Start listens for SIGINT/SIGTERM until Stop or Shutdown
func (gsh *GracefulShutdownHandler) Start() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	gsh.mu.Lock()
	gsh.stop = stop
	gsh.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			gsh.Shutdown()
		case <-gsh.done:
		}
	}()
}

// Stop releases the signal handler without running the hooks
func (gsh *GracefulShutdownHandler) Stop() {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	if gsh.stop != nil {
		gsh.stop()
	}
}

// Done is closed once the hooks have run
func (gsh *GracefulShutdownHandler) Done() <-chan struct{} {
	return gsh.done
}

// Err returns the joined hook errors after Done is closed
func (gsh *GracefulShutdownHandler) Err() error {
	<-gsh.done
	return gsh.err
}

// Shutdown runs the hooks once and returns their joined errors. A hook still
// running at the timeout is abandoned.
func (gsh *GracefulShutdownHandler) Shutdown() error {
	gsh.once.Do(func() {
		defer close(gsh.done)
		gsh.Stop()

		gsh.mu.Lock()
		hooks := append([]func() error(nil), gsh.hooks...)
		gsh.mu.Unlock()

		finished := make(chan error, 1)
		go func() {
			var errs []error
			for i := len(hooks) - 1; i >= 0; i-- {
				if err := hooks[i](); err != nil {
					errs = append(errs, err)
				}
			}
			finished <- errors.Join(errs...)
		}()

		var timeout <-chan time.Time
		if gsh.timeout > 0 {
			timer := time.NewTimer(gsh.timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case gsh.err = <-finished:
		case <-timeout:
			gsh.err = NewAppError(ErrorTypeTimeout, "shutdown hooks did not finish in time", nil)
		}
	})
	<-gsh.done
	return gsh.err
}

// CreateContextWithTimeout derives a context bounded by timeout; zero means no bound
func CreateContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
