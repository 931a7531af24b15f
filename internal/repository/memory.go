package repository

import (
	"context"
	"sync"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"
)

// MemoryIngest is an in-process ingest channel.
type MemoryIngest struct {
	d *dispatcher
}

func NewMemoryIngest(bufferSize int, logger *xlogger.Logger, metrics drepo.Metrics) *MemoryIngest {
	return &MemoryIngest{d: newDispatcher("memory", bufferSize, logger, metrics)}
}

func (m *MemoryIngest) Bind(context.Context) error { return nil }

func (m *MemoryIngest) Start(ctx context.Context, h drepo.PortfolioHandler) error {
	m.d.start(ctx, h)
	return nil
}

// Deliver queues an already decoded portfolio.
func (m *MemoryIngest) Deliver(ctx context.Context, p *models.TargetPortfolio) error {
	return m.d.enqueue(ctx, p)
}

// DeliverRaw decodes b and queues it. Malformed payloads are dropped and reported as false.
func (m *MemoryIngest) DeliverRaw(ctx context.Context, b []byte) (bool, error) {
	p, ok := m.d.decode(b, "memory")
	if !ok {
		return false, nil
	}
	return true, m.d.enqueue(ctx, p)
}

func (m *MemoryIngest) Stop(ctx context.Context) error { return m.d.stop(ctx) }

// MemoryPublisher fans the aggregate out to in-process subscribers.
// Slow subscribers miss updates; nothing is buffered for late joiners.
type MemoryPublisher struct {
	metrics drepo.Metrics

	mu     sync.Mutex
	subs   map[int]chan *models.TargetPortfolio
	nextID int
	closed bool
}

func NewMemoryPublisher(metrics drepo.Metrics) *MemoryPublisher {
	return &MemoryPublisher{metrics: orNoop(metrics), subs: make(map[int]chan *models.TargetPortfolio)}
}

func (m *MemoryPublisher) Bind(context.Context) error { return nil }

// Subscribe attaches a subscriber with the given buffer. The returned func detaches it.
func (m *MemoryPublisher) Subscribe(buffer int) (<-chan *models.TargetPortfolio, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *models.TargetPortfolio, buffer)
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *MemoryPublisher) Publish(_ context.Context, p *models.TargetPortfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for _, ch := range m.subs {
		select {
		case ch <- p.Clone():
		default:
		}
	}
	m.metrics.RecordPublish("memory", nil)
	return nil
}

func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

var (
	_ drepo.IngestListener  = (*MemoryIngest)(nil)
	_ drepo.OutputPublisher = (*MemoryPublisher)(nil)
)
