package repository

import (
	"context"
	"fmt"
	"time"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisherConfig configures the Redis pub/sub output.
type RedisPublisherConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Envelope bool
}

// RedisPublisher broadcasts each aggregate on a pub/sub channel. Pub/sub
// keeps no backlog, so subscribers see only updates after they attach.
type RedisPublisher struct {
	client   *redis.Client
	channel  string
	envelope bool
	logger   *xlogger.Logger
	metrics  drepo.Metrics
}

func NewRedisPublisher(cfg RedisPublisherConfig, logger *xlogger.Logger, metrics drepo.Metrics) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel:  cfg.Channel,
		envelope: cfg.Envelope,
		logger:   logger.Named("output.redis"),
		metrics:  orNoop(metrics),
	}
}

func (r *RedisPublisher) Bind(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisPublisher) Publish(ctx context.Context, p *models.TargetPortfolio) error {
	b, err := models.EncodePortfolio(p, r.envelope)
	if err == nil {
		var n int64
		n, err = r.client.Publish(ctx, r.channel, b).Result()
		if err == nil {
			r.logger.Debug("aggregate published", xlogger.String("channel", r.channel), xlogger.Any("receivers", n))
		}
	}
	r.metrics.RecordPublish("redis", err)
	return err
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

var _ drepo.OutputPublisher = (*RedisPublisher)(nil)
