package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	xlogger "KellyMux/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from the consumer's topic.
type MessageHandler interface {
	Handle(context.Context, []byte) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(context.Context, []byte) error

func (f HandlerFunc) Handle(ctx context.Context, b []byte) error { return f(ctx, b) }

// messageReader is the subset of *kafka.Reader the fetch loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Lag() int64
	Close() error
}

// Consumer reads a single topic and hands messages to the handler one at a
// time, in partition order. Offsets are committed after each message,
// including messages whose handling failed after all retries. A fetch error
// ends the loop; Err reports it.
type Consumer struct {
	cfg    *ConsumerConfig
	reader messageReader
	hook   ConsumerHook
	logger *xlogger.Logger

	mu       sync.Mutex
	err      error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(logger *xlogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "default",
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   10e6, // 10MB
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	initMetricsOnce()
	return &Consumer{
		cfg:    cfg,
		hook:   NoopHook{},
		logger: logger.Named("kafka.consumer"),
	}, nil
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Ping dials the first reachable broker.
func (c *Consumer) Ping(ctx context.Context) error {
	return dialAny(ctx, c.cfg.Brokers)
}

// Start opens the reader and spawns the fetch loop.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return errors.New("consumer already started")
	}

	startOffset := kafka.FirstOffset
	if c.cfg.StartLast {
		startOffset = kafka.LastOffset
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		Topic:       c.cfg.Topic,
		GroupID:     c.cfg.GroupID,
		MinBytes:    c.cfg.MinBytes,
		MaxBytes:    c.cfg.MaxBytes,
		StartOffset: startOffset,
	})

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consume(ctx, handler)

	c.logger.Info("started",
		xlogger.String("topic", c.cfg.Topic),
		xlogger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Err returns the fetch error that ended the loop, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel, reader := c.cancel, c.reader
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()

		doneChan := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(doneChan)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-doneChan:
		}

		if err := reader.Close(); err != nil {
			c.logger.Warn("error closing reader", xlogger.Error(err))
		}
		if stopErr == nil {
			c.logger.Info("stopped")
		}
	})

	return stopErr
}

func (c *Consumer) consume(ctx context.Context, handler MessageHandler) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.logger.Error("fetch failed, consumer loop stopped", xlogger.String("topic", c.cfg.Topic), xlogger.Error(err))
			return
		}

		start := time.Now()
		herr := c.handle(ctx, handler, msg)
		observeConsumer(c.cfg.Topic, time.Since(start), herr)
		consumerLag.WithLabelValues(c.cfg.Topic).Set(float64(c.reader.Lag()))
		if herr != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("message dropped",
				xlogger.String("topic", c.cfg.Topic),
				xlogger.Int("partition", msg.Partition),
				xlogger.Any("offset", msg.Offset),
				xlogger.Error(herr),
			)
		}

		// Commit failed messages too so a poison message cannot stall the partition.
		if err := c.commitWithRetry(ctx, msg, 3); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", xlogger.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		hctx, berr := safeBefore(c.hook, ctx, msg)
		if berr != nil {
			return berr
		}
		err = safeHandle(handler, hctx, msg.Value)
		safeAfter(c.hook, hctx, msg, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

func safeHandle(h MessageHandler, ctx context.Context, b []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in message handler: %v", r)
		}
	}()
	return h.Handle(ctx, b)
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(ctx context.Context, km kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = c.reader.CommitMessages(cctx, km)
		cancel()
		if err == nil {
			return nil
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			return ctx.Err()
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	// exponential backoff base
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}
