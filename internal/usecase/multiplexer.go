package usecase

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"KellyMux/internal/domain/models"
	domrepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"
)

const (
	// MinSigma is the volatility below which a client's contribution is zero.
	MinSigma = 1e-6
	// MaxScalar bounds the absolute Kelly scalar applied to a client.
	MaxScalar = 2.0
)

// ErrUnknownClient is returned under the reject policy for unregistered producers.
var ErrUnknownClient = errors.New("unknown client")

// UnknownPolicy decides what happens to a portfolio from an unregistered producer.
type UnknownPolicy int

const (
	AutoRegister UnknownPolicy = iota
	Reject
)

// MultiplexerConfig is the aggregation configuration.
type MultiplexerConfig struct {
	KellyFraction float64
	AggregateID   string
	Defaults      models.StrategyParams
	Policy        UnknownPolicy
	// StaleAfter evicts cached portfolios older than this. Zero never evicts.
	StaleAfter time.Duration
}

type cachedPortfolio struct {
	portfolio  *models.TargetPortfolio
	receivedAt time.Time
}

// Multiplexer owns the client registry and per-client portfolio cache.
// Every read or write of either happens under mu.
type Multiplexer struct {
	cfg     MultiplexerConfig
	logger  *xlogger.Logger
	metrics domrepo.Metrics
	now     func() time.Time

	mu         sync.Mutex
	registry   map[string]models.StrategyParams
	portfolios map[string]cachedPortfolio
	last       *models.TargetPortfolio
}

// NewMultiplexer creates a multiplexer seeded with the given registry entries.
func NewMultiplexer(cfg MultiplexerConfig, seed map[string]models.StrategyParams, logger *xlogger.Logger, metrics domrepo.Metrics) (*Multiplexer, error) {
	if cfg.KellyFraction <= 0 || cfg.KellyFraction > 1 {
		return nil, fmt.Errorf("kelly fraction must be in (0, 1], got %g", cfg.KellyFraction)
	}
	if cfg.AggregateID == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default params: %w", err)
	}
	if logger == nil {
		logger = xlogger.Nop()
	}
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}

	m := &Multiplexer{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		registry:   make(map[string]models.StrategyParams, len(seed)),
		portfolios: make(map[string]cachedPortfolio),
	}
	for id, p := range seed {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("seed client %s: %w", id, err)
		}
		m.registry[id] = p
	}
	metrics.SetRegistrySize(len(m.registry))
	return m, nil
}

// KellyScalar returns clamp(fraction * mu/sigma^2, -2, 2), or 0 when sigma is at or below MinSigma.
func KellyScalar(fraction float64, p models.StrategyParams) float64 {
	if p.Sigma <= MinSigma {
		return 0
	}
	raw := p.Mu / (p.Sigma * p.Sigma)
	return math.Max(-MaxScalar, math.Min(MaxScalar, fraction*raw))
}

// OnPortfolioReceived caches p as its producer's latest portfolio and returns
// the recomputed aggregate. The result is empty when nothing is cached.
func (m *Multiplexer) OnPortfolioReceived(p *models.TargetPortfolio) (*models.TargetPortfolio, error) {
	if p == nil || p.ID == "" {
		return &models.TargetPortfolio{}, models.ErrMissingID
	}

	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.registry[p.ID]; !known && m.cfg.Policy == Reject {
		m.metrics.RecordRejected(p.ID)
		return &models.TargetPortfolio{}, fmt.Errorf("%w: %s", ErrUnknownClient, p.ID)
	}

	m.portfolios[p.ID] = cachedPortfolio{portfolio: p.Clone(), receivedAt: m.now()}
	agg, contributors := m.recomputeLocked()

	m.last = agg
	m.metrics.SetCacheSize(len(m.portfolios))
	m.metrics.SetRegistrySize(len(m.registry))
	m.metrics.RecordRecompute(time.Since(start).Seconds(), contributors, len(agg.Weights), grossExposure(agg))
	return agg.Clone(), nil
}

// recomputeLocked builds the aggregate over all cached portfolios. Clients are
// visited in id order so the floating point sums are reproducible.
func (m *Multiplexer) recomputeLocked() (*models.TargetPortfolio, int) {
	m.evictStaleLocked()
	if len(m.portfolios) == 0 {
		return &models.TargetPortfolio{}, 0
	}

	ids := make([]string, 0, len(m.portfolios))
	for id := range m.portfolios {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	agg := models.NewTargetPortfolio(m.cfg.AggregateID)
	contributors := 0
	for _, id := range ids {
		params, ok := m.registry[id]
		if !ok {
			params = m.cfg.Defaults
			m.registry[id] = params
			m.logger.Info("auto-registered client",
				xlogger.String("client", id),
				xlogger.Float64("mu", params.Mu),
				xlogger.Float64("sigma", params.Sigma),
			)
		}

		scalar := KellyScalar(m.cfg.KellyFraction, params)
		if scalar != 0 {
			contributors++
		}
		for inst, w := range m.portfolios[id].portfolio.Weights {
			agg.Weights[inst] += w * scalar
		}
	}
	return agg, contributors
}

func (m *Multiplexer) evictStaleLocked() {
	if m.cfg.StaleAfter <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	for id, c := range m.portfolios {
		if c.receivedAt.Before(cutoff) {
			delete(m.portfolios, id)
			m.logger.Warn("evicted stale portfolio",
				xlogger.String("client", id),
				xlogger.Duration("age_ms", m.now().Sub(c.receivedAt)),
			)
		}
	}
}

// UpsertClient adds or replaces a registry entry. It does not recompute.
func (m *Multiplexer) UpsertClient(id string, params models.StrategyParams) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", models.ErrInvalidParams)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.registry[id] = params
	n := len(m.registry)
	m.mu.Unlock()

	m.metrics.SetRegistrySize(n)
	m.logger.Info("client upserted",
		xlogger.String("client", id),
		xlogger.Float64("mu", params.Mu),
		xlogger.Float64("sigma", params.Sigma),
	)
	return nil
}

// RemoveClient deletes the registry entry and cached portfolio for id.
// It reports whether anything was removed.
func (m *Multiplexer) RemoveClient(id string) bool {
	m.mu.Lock()
	_, inRegistry := m.registry[id]
	_, inCache := m.portfolios[id]
	delete(m.registry, id)
	delete(m.portfolios, id)
	nReg, nCache := len(m.registry), len(m.portfolios)
	m.mu.Unlock()

	m.metrics.SetRegistrySize(nReg)
	m.metrics.SetCacheSize(nCache)
	m.logger.Info("client removed", xlogger.String("client", id), xlogger.Bool("existed", inRegistry || inCache))
	return inRegistry || inCache
}

// Params returns the registered parameters for id.
func (m *Multiplexer) Params(id string) (models.StrategyParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.registry[id]
	return p, ok
}

// Clients returns a registry snapshot sorted by id.
func (m *Multiplexer) Clients() []models.ClientInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ClientInfo, 0, len(m.registry))
	for id, p := range m.registry {
		_, has := m.portfolios[id]
		out = append(out, models.ClientInfo{ID: id, Mu: p.Mu, Sigma: p.Sigma, HasPortfolio: has})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Registry returns a copy of the registry.
func (m *Multiplexer) Registry() map[string]models.StrategyParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.StrategyParams, len(m.registry))
	for id, p := range m.registry {
		out[id] = p
	}
	return out
}

// Last returns the most recently computed aggregate, or nil.
func (m *Multiplexer) Last() *models.TargetPortfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Clone()
}

func grossExposure(p *models.TargetPortfolio) float64 {
	var g float64
	for _, w := range p.Weights {
		g += math.Abs(w)
	}
	return g
}
