package repository

import (
	"context"
	"time"

	drepo "KellyMux/internal/domain/repository"
	xkafka "KellyMux/pkg/kafka"
	xlogger "KellyMux/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// KafkaIngestConfig configures the Kafka ingest listener.
type KafkaIngestConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	StartLast  bool
	BufferSize int
	MinBytes   int
	MaxBytes   int
}

// KafkaIngest consumes serialized portfolios from a topic. Each record value
// is one portfolio; malformed records are dropped and committed. Records are
// handled once and a fetch error ends the receive loop.
type KafkaIngest struct {
	consumer *xkafka.Consumer
	d        *dispatcher
	logger   *xlogger.Logger
}

func NewKafkaIngest(cfg KafkaIngestConfig, logger *xlogger.Logger, metrics drepo.Metrics) (*KafkaIngest, error) {
	consumer, err := xkafka.NewConsumer(logger,
		xkafka.WithConsumerBrokers(cfg.Brokers),
		xkafka.WithConsumerTopic(cfg.Topic),
		xkafka.WithConsumerGroupID(cfg.GroupID),
		xkafka.WithConsumerStartLast(cfg.StartLast),
		xkafka.WithConsumerFetch(cfg.MinBytes, cfg.MaxBytes),
		xkafka.WithConsumerRetry(0, 0, 0),
	)
	if err != nil {
		return nil, err
	}
	k := &KafkaIngest{
		consumer: consumer,
		d:        newDispatcher("kafka", cfg.BufferSize, logger, metrics),
		logger:   logger.Named("ingest.kafka"),
	}
	consumer.WithConsumerHook(xkafka.HookFuncs{
		Before: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			return xkafka.WithTraceID(ctx, xkafka.ExtractTraceID(km)), nil
		},
		After: func(ctx context.Context, km kafka.Message, err error) {
			if err != nil {
				k.logger.Debug("enqueue failed",
					xlogger.String("trace_id", xkafka.TraceID(ctx)),
					xlogger.Int("partition", km.Partition),
					xlogger.Error(err),
				)
			}
		},
	})
	return k, nil
}

// Bind checks that a broker is reachable.
func (k *KafkaIngest) Bind(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return k.consumer.Ping(ctx)
}

func (k *KafkaIngest) Start(ctx context.Context, h drepo.PortfolioHandler) error {
	k.d.start(ctx, h)
	return k.consumer.Start(ctx, xkafka.HandlerFunc(k.handle))
}

func (k *KafkaIngest) handle(ctx context.Context, b []byte) error {
	p, ok := k.d.decode(b, "kafka")
	if !ok {
		return nil
	}
	return k.d.enqueue(ctx, p)
}

func (k *KafkaIngest) Stop(ctx context.Context) error {
	err := k.consumer.Stop(ctx)
	if derr := k.d.stop(ctx); derr != nil && err == nil {
		err = derr
	}
	return err
}

var _ drepo.IngestListener = (*KafkaIngest)(nil)
