package repository

import (
	"context"
	"time"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xkafka "KellyMux/pkg/kafka"
	xlogger "KellyMux/pkg/logger"
)

// KafkaPublisherConfig configures the Kafka output.
type KafkaPublisherConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	Compression  string
	WriteTimeout time.Duration
	Async        bool
	Envelope     bool
}

// KafkaPublisher writes each aggregate to a topic keyed by the aggregate id,
// so all updates land on one partition in order.
type KafkaPublisher struct {
	producer *xkafka.Producer
	envelope bool
	logger   *xlogger.Logger
	metrics  drepo.Metrics
}

func NewKafkaPublisher(cfg KafkaPublisherConfig, logger *xlogger.Logger, metrics drepo.Metrics) (*KafkaPublisher, error) {
	producer, err := xkafka.NewProducer(
		xkafka.WithBrokers(cfg.Brokers),
		xkafka.WithTopic(cfg.Topic),
		xkafka.WithRequiredAcks(cfg.RequiredAcks),
		xkafka.WithCompression(cfg.Compression),
		xkafka.WithWriteTimeout(cfg.WriteTimeout),
		xkafka.WithAsync(cfg.Async),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{
		producer: producer,
		envelope: cfg.Envelope,
		logger:   logger.Named("output.kafka"),
		metrics:  orNoop(metrics),
	}, nil
}

func (k *KafkaPublisher) Bind(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return k.producer.Ping(ctx)
}

func (k *KafkaPublisher) Publish(ctx context.Context, p *models.TargetPortfolio) error {
	b, err := models.EncodePortfolio(p, k.envelope)
	if err == nil {
		err = k.producer.Publish(ctx, []byte(p.ID), b)
	}
	k.metrics.RecordPublish("kafka", err)
	return err
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

var _ drepo.OutputPublisher = (*KafkaPublisher)(nil)
