package repository

import (
	"context"

	"KellyMux/internal/domain/models"
)

// PortfolioHandler receives each decoded portfolio, in arrival order per channel.
type PortfolioHandler func(ctx context.Context, p *models.TargetPortfolio)

// IngestListener delivers decoded portfolios from producers to one callback.
type IngestListener interface {
	Bind(ctx context.Context) error // attach to the configured address
	Start(ctx context.Context, h PortfolioHandler) error
	Stop(ctx context.Context) error // cancels receive loops and joins them
}

// OutputPublisher broadcasts the aggregate to attached subscribers, best effort.
type OutputPublisher interface {
	Bind(ctx context.Context) error
	Publish(ctx context.Context, p *models.TargetPortfolio) error
	Close() error
}

type Metrics interface {
	RecordIngest(backend string)
	RecordDecodeError(backend string)
	RecordRejected(clientID string)
	RecordRecompute(seconds float64, clients, instruments int, gross float64)
	RecordPublish(backend string, err error)
	RecordAdmin(cmd, status string)
	SetRegistrySize(n int)
	SetCacheSize(n int)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) RecordIngest(string) {}
func (NoopMetrics) RecordDecodeError(string) {}
func (NoopMetrics) RecordRejected(string) {}
func (NoopMetrics) RecordRecompute(float64, int, int, float64) {}
func (NoopMetrics) RecordPublish(string, error) {}
func (NoopMetrics) RecordAdmin(string, string) {}
func (NoopMetrics) SetRegistrySize(int) {}
func (NoopMetrics) SetCacheSize(int) {}

var _ Metrics = NoopMetrics{}
