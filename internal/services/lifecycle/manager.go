package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownFunc describes a graceful shutdown callback.
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Manager stops components in the reverse order they were started.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []hook

	once   sync.Once
	result error
}

func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown hook. Hooks registered after Shutdown never run.
func (m *Manager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook once under a shared deadline. A failing hook does
// not stop the rest; all failures are joined. Later calls return the first
// result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		m.mu.Lock()
		hooks := m.hooks
		m.hooks = nil
		m.mu.Unlock()

		started := time.Now()
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			begin := time.Now()
			err := h.fn(ctx)
			fields := []zap.Field{zap.String("component", h.name), zap.Duration("took", time.Since(begin))}
			if err != nil {
				m.logger.Error("shutdown hook failed", append(fields, zap.Error(err))...)
				m.result = errors.Join(m.result, err)
				continue
			}
			m.logger.Info("component stopped", fields...)
		}
		if ctx.Err() != nil {
			m.logger.Warn("shutdown exceeded its deadline", zap.Duration("timeout", m.timeout), zap.Duration("took", time.Since(started)))
		}
	})
	return m.result
}

// Context returns a child of parent that is cancelled on SIGINT or SIGTERM.
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
