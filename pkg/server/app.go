package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"KellyMux/internal/usecase"
	xhttp "KellyMux/pkg/http"
	xlogger "KellyMux/pkg/logger"
)

// ErrBind marks a startup failure to attach an endpoint to its address.
var ErrBind = errors.New("bind")

// State is the application lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateBound
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle holds the current State. The App writes it; health checks read it.
type Lifecycle struct {
	state atomic.Int32
}

func NewLifecycle() *Lifecycle { return &Lifecycle{} }

func (l *Lifecycle) Load() State { return State(l.state.Load()) }

func (l *Lifecycle) Store(s State) { l.state.Store(int32(s)) }

// String returns the name of the current phase.
func (l *Lifecycle) String() string { return l.Load().String() }

// App encapsulates the entire application lifecycle.
type App struct {
	collector       *usecase.PortfolioCollector
	admin           *xhttp.Server
	lifecycle       *Lifecycle
	logger          *xlogger.Logger
	shutdownTimeout time.Duration
}

// New creates a new App instance with all dependencies. A nil lifecycle gets a private one.
func New(collector *usecase.PortfolioCollector, admin *xhttp.Server, lifecycle *Lifecycle, logger *xlogger.Logger, shutdownTimeout time.Duration) *App {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	if lifecycle == nil {
		lifecycle = NewLifecycle()
	}
	return &App{
		collector:       collector,
		admin:           admin,
		lifecycle:       lifecycle,
		logger:          logger.Named("app"),
		shutdownTimeout: shutdownTimeout,
	}
}

// State reports the current lifecycle phase.
func (a *App) State() State { return a.lifecycle.Load() }

func (a *App) setState(s State) {
	a.lifecycle.Store(s)
	a.logger.Debug("state changed", xlogger.String("state", s.String()))
}

// AdminAddr returns the bound admin address.
func (a *App) AdminAddr() string { return a.admin.Addr() }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext binds every endpoint, runs until ctx is done and then shuts
// down. A bind failure aborts startup and is returned.
func (a *App) RunContext(ctx context.Context) error {
	a.setState(StateStarting)

	if err := a.collector.Bind(ctx); err != nil {
		a.abort()
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	if err := a.admin.Bind(); err != nil {
		a.abort()
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	a.setState(StateBound)

	// Receive loops outlive ctx so that shutdown can drain them in order.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if err := a.collector.Start(runCtx); err != nil {
		a.abort()
		return fmt.Errorf("start collector: %w", err)
	}
	if err := a.admin.Start(); err != nil {
		a.abort()
		return fmt.Errorf("start admin: %w", err)
	}
	a.setState(StateRunning)
	a.logger.Info("multiplexer running", xlogger.String("admin", a.admin.Addr()))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown(cancel)
}

func (a *App) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	_ = a.collector.Shutdown(ctx)
	_ = a.admin.Stop(ctx)
	a.setState(StateStopped)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(cancelRun context.CancelFunc) error {
	a.setState(StateStopping)
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.admin.Stop(ctx); err != nil {
		a.logger.Error("admin shutdown error", xlogger.Error(err))
		firstErr = err
	}
	if err := a.collector.Shutdown(ctx); err != nil {
		a.logger.Warn("collector stop error", xlogger.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	cancelRun()

	a.setState(StateStopped)
	a.logger.Info("stopped")
	return firstErr
}
