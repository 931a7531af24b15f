package repository

import (
	"context"
	"errors"
	"sync"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"
)

var errNotRunning = errors.New("ingest not running")

// dispatcher funnels portfolios from any number of receive loops into one
// goroutine that invokes the handler. FIFO order of the channel is preserved.
type dispatcher struct {
	backend string
	logger  *xlogger.Logger
	metrics drepo.Metrics
	queue   chan *models.TargetPortfolio

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newDispatcher(backend string, size int, logger *xlogger.Logger, metrics drepo.Metrics) *dispatcher {
	if size <= 0 {
		size = 1
	}
	return &dispatcher{
		backend: backend,
		logger:  logger.Named("ingest." + backend),
		metrics: orNoop(metrics),
		queue:   make(chan *models.TargetPortfolio, size),
		done:    make(chan struct{}),
	}
}

func (d *dispatcher) start(ctx context.Context, h drepo.PortfolioHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case p := <-d.queue:
				d.invoke(ctx, h, p)
			}
		}
	}()
}

func (d *dispatcher) invoke(ctx context.Context, h drepo.PortfolioHandler, p *models.TargetPortfolio) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in portfolio handler", xlogger.Any("panic", r), xlogger.String("client", p.ID))
		}
	}()
	d.metrics.RecordIngest(d.backend)
	h(ctx, p)
}

// enqueue blocks until p is queued, the dispatcher stops, or ctx ends.
func (d *dispatcher) enqueue(ctx context.Context, p *models.TargetPortfolio) error {
	select {
	case <-d.done:
		return errNotRunning
	default:
	}
	select {
	case d.queue <- p:
		return nil
	case <-d.done:
		return errNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decode parses a raw payload; failures are logged, counted and dropped.
func (d *dispatcher) decode(b []byte, source string) (*models.TargetPortfolio, bool) {
	p, err := models.DecodePortfolio(b)
	if err != nil {
		d.metrics.RecordDecodeError(d.backend)
		d.logger.Warn("dropping malformed portfolio",
			xlogger.String("source", source),
			xlogger.Int("bytes", len(b)),
			xlogger.Error(err),
		)
		return nil, false
	}
	return p, true
}

// stop cancels the loop and waits for it to exit, bounded by ctx.
func (d *dispatcher) stop(ctx context.Context) error {
	d.mu.Lock()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.running = false
	d.mu.Unlock()
	return waitGroup(ctx, &d.wg)
}

func orNoop(m drepo.Metrics) drepo.Metrics {
	if m == nil {
		return drepo.NoopMetrics{}
	}
	return m
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		return nil
	}
}
