package usecase

import (
	"context"
	"errors"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"
)

// PortfolioCollector feeds ingested portfolios to the multiplexer and
// publishes each resulting aggregate.
type PortfolioCollector struct {
	ingest  drepo.IngestListener
	mux     *Multiplexer
	out     drepo.OutputPublisher
	logger  *xlogger.Logger
	metrics drepo.Metrics
}

// NewPortfolioCollector creates a new PortfolioCollector instance.
func NewPortfolioCollector(ingest drepo.IngestListener, mux *Multiplexer, out drepo.OutputPublisher, logger *xlogger.Logger, metrics drepo.Metrics) *PortfolioCollector {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if metrics == nil {
		metrics = drepo.NoopMetrics{}
	}
	return &PortfolioCollector{ingest: ingest, mux: mux, out: out, logger: logger, metrics: metrics}
}

// Bind attaches the ingest and output adapters to their addresses.
func (c *PortfolioCollector) Bind(ctx context.Context) error {
	if err := c.ingest.Bind(ctx); err != nil {
		return err
	}
	return c.out.Bind(ctx)
}

// Start spawns the ingest receive loop.
func (c *PortfolioCollector) Start(ctx context.Context) error {
	return c.ingest.Start(ctx, c.Handle)
}

// Handle runs one recompute for p and publishes the aggregate unless it is empty.
func (c *PortfolioCollector) Handle(ctx context.Context, p *models.TargetPortfolio) {
	agg, err := c.mux.OnPortfolioReceived(p)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			c.logger.Warn("portfolio rejected", xlogger.String("client", p.ID))
			return
		}
		c.logger.Error("recompute failed", xlogger.Error(err))
		return
	}
	if agg.IsEmpty() {
		return
	}

	c.logger.Debug("publishing aggregate",
		xlogger.String("from", p.ID),
		xlogger.Int("instruments", len(agg.Weights)),
	)
	if err := c.out.Publish(ctx, agg); err != nil {
		c.logger.Warn("publish failed", xlogger.Error(err))
	}
}

// Shutdown stops the ingest loop and closes the output.
func (c *PortfolioCollector) Shutdown(ctx context.Context) error {
	err := c.ingest.Stop(ctx)
	if cerr := c.out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
