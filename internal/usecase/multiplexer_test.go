package usecase

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"KellyMux/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	aapl = models.Instrument{Type: "Equity", Symbol: "AAPL", Exchange: "NASDAQ"}
	btc  = models.Instrument{Type: "Crypto", Symbol: "BTC", Exchange: "BINANCE"}
)

func testConfig() MultiplexerConfig {
	return MultiplexerConfig{
		KellyFraction: 0.3,
		AggregateID:   "KellyMux_Aggregated",
		Defaults:      models.StrategyParams{Mu: 0.05, Sigma: 0.20},
	}
}

func seeded() map[string]models.StrategyParams {
	return map[string]models.StrategyParams{
		"A": {Mu: 0.05, Sigma: 0.10},
		"B": {Mu: 0.10, Sigma: 0.20},
	}
}

func newTestMux(t *testing.T, cfg MultiplexerConfig) *Multiplexer {
	t.Helper()
	m, err := NewMultiplexer(cfg, seeded(), nil, nil)
	require.NoError(t, err)
	return m
}

func portfolio(id string, w map[models.Instrument]float64) *models.TargetPortfolio {
	p := models.NewTargetPortfolio(id)
	for k, v := range w {
		p.Weights[k] = v
	}
	return p
}

func TestEndToEndTwoProducers(t *testing.T) {
	m := newTestMux(t, testConfig())

	agg, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)
	assert.Equal(t, "KellyMux_Aggregated", agg.ID)
	assert.InDelta(t, 1.5, agg.Weights[aapl], 1e-12)

	agg, err = m.OnPortfolioReceived(portfolio("B", map[models.Instrument]float64{aapl: -0.5}))
	require.NoError(t, err)
	assert.InDelta(t, 1.125, agg.Weights[aapl], 1e-12)
	assert.Len(t, agg.Weights, 1)
}

func TestResendIsIdempotent(t *testing.T) {
	m := newTestMux(t, testConfig())
	p := portfolio("A", map[models.Instrument]float64{aapl: 1.0, btc: -0.2})

	first, err := m.OnPortfolioReceived(p)
	require.NoError(t, err)
	second, err := m.OnPortfolioReceived(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLatestPortfolioOverwrites(t *testing.T) {
	m := newTestMux(t, testConfig())
	_, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)

	agg, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{btc: 1.0}))
	require.NoError(t, err)
	_, hasAAPL := agg.Weights[aapl]
	assert.False(t, hasAAPL)
	assert.InDelta(t, 1.5, agg.Weights[btc], 1e-12)
}

func TestNearZeroSigmaContributesNothing(t *testing.T) {
	m := newTestMux(t, testConfig())
	require.NoError(t, m.UpsertClient("Z", models.StrategyParams{Mu: 1000, Sigma: 1e-6}))
	require.NoError(t, m.UpsertClient("Y", models.StrategyParams{Mu: -3, Sigma: 0}))

	_, err := m.OnPortfolioReceived(portfolio("Z", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)
	agg, err := m.OnPortfolioReceived(portfolio("Y", map[models.Instrument]float64{aapl: -7.0}))
	require.NoError(t, err)

	assert.Equal(t, 0.0, agg.Weights[aapl])
	assert.Equal(t, 0.0, KellyScalar(0.3, models.StrategyParams{Mu: 5, Sigma: 1e-7}))
}

func TestKellyScalarClamp(t *testing.T) {
	cases := []struct {
		name   string
		params models.StrategyParams
		want   float64
	}{
		{"in range", models.StrategyParams{Mu: 0.05, Sigma: 0.10}, 1.5},
		{"positive clamp", models.StrategyParams{Mu: 1, Sigma: 0.1}, 2},
		{"negative clamp", models.StrategyParams{Mu: -1, Sigma: 0.1}, -2},
		{"negative in range", models.StrategyParams{Mu: -0.10, Sigma: 0.20}, -0.75},
		{"zero mu", models.StrategyParams{Mu: 0, Sigma: 0.3}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, KellyScalar(0.3, tc.params), 1e-12)
		})
	}
}

func TestRemovePurgesContribution(t *testing.T) {
	m := newTestMux(t, testConfig())
	_, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)
	_, err = m.OnPortfolioReceived(portfolio("B", map[models.Instrument]float64{btc: 1.0}))
	require.NoError(t, err)

	assert.True(t, m.RemoveClient("A"))
	_, ok := m.Params("A")
	assert.False(t, ok)

	// A later message from B recomputes without A's cached portfolio.
	agg, err := m.OnPortfolioReceived(portfolio("B", map[models.Instrument]float64{btc: 1.0}))
	require.NoError(t, err)
	_, hasAAPL := agg.Weights[aapl]
	assert.False(t, hasAAPL)
	assert.InDelta(t, 0.75, agg.Weights[btc], 1e-12)

	assert.False(t, m.RemoveClient("nobody"))
}

func TestUnknownProducerAutoRegisters(t *testing.T) {
	m := newTestMux(t, testConfig())

	agg, err := m.OnPortfolioReceived(portfolio("New", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)

	params, ok := m.Params("New")
	require.True(t, ok)
	assert.Equal(t, models.StrategyParams{Mu: 0.05, Sigma: 0.20}, params)
	// 0.3 * 0.05 / 0.04 = 0.375, applied on the same recompute.
	assert.InDelta(t, 0.375, agg.Weights[aapl], 1e-12)
}

func TestUnknownProducerRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Policy = Reject
	m := newTestMux(t, cfg)

	_, err := m.OnPortfolioReceived(portfolio("New", map[models.Instrument]float64{aapl: 1.0}))
	assert.ErrorIs(t, err, ErrUnknownClient)
	_, ok := m.Params("New")
	assert.False(t, ok)
	assert.Nil(t, m.Last())

	agg, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, agg.Weights[aapl], 1e-12)
}

func TestMissingIDIsAnError(t *testing.T) {
	m := newTestMux(t, testConfig())
	agg, err := m.OnPortfolioReceived(&models.TargetPortfolio{})
	assert.ErrorIs(t, err, models.ErrMissingID)
	assert.True(t, agg.IsEmpty())
}

func TestStalePortfoliosEvicted(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = time.Minute
	m := newTestMux(t, cfg)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1.0}))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	agg, err := m.OnPortfolioReceived(portfolio("B", map[models.Instrument]float64{btc: 1.0}))
	require.NoError(t, err)
	_, hasAAPL := agg.Weights[aapl]
	assert.False(t, hasAAPL)

	// Registry entries survive eviction.
	_, ok := m.Params("A")
	assert.True(t, ok)
}

func TestUpsertRejectsNegativeSigma(t *testing.T) {
	m := newTestMux(t, testConfig())
	err := m.UpsertClient("A", models.StrategyParams{Mu: 0.1, Sigma: -1})
	assert.ErrorIs(t, err, models.ErrInvalidParams)
	p, _ := m.Params("A")
	assert.Equal(t, 0.10, p.Sigma)
}

func TestNewMultiplexerValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.KellyFraction = 0
	_, err := NewMultiplexer(cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.AggregateID = ""
	_, err = NewMultiplexer(cfg, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewMultiplexer(testConfig(), map[string]models.StrategyParams{"X": {Sigma: -1}}, nil, nil)
	assert.Error(t, err)
}

func TestRegistryReplayMatchesReferenceMap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"A", "B", "C", "D"}

	for round := 0; round < 20; round++ {
		m := newTestMux(t, testConfig())
		ref := seeded()

		for i := 0; i < 50; i++ {
			id := ids[rng.Intn(len(ids))]
			if rng.Intn(3) == 0 {
				m.RemoveClient(id)
				delete(ref, id)
				continue
			}
			p := models.StrategyParams{Mu: rng.Float64() - 0.5, Sigma: rng.Float64()}
			require.NoError(t, m.UpsertClient(id, p))
			ref[id] = p
		}
		assert.Equal(t, ref, m.Registry(), "round %d", round)
	}
}

func TestClientsSnapshot(t *testing.T) {
	m := newTestMux(t, testConfig())
	_, err := m.OnPortfolioReceived(portfolio("B", map[models.Instrument]float64{aapl: 1}))
	require.NoError(t, err)

	got := m.Clients()
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.False(t, got[0].HasPortfolio)
	assert.Equal(t, "B", got[1].ID)
	assert.True(t, got[1].HasPortfolio)
}

func TestConcurrentIngestAndAdmin(t *testing.T) {
	m := newTestMux(t, testConfig())
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("P%d", i%3)
			for j := 0; j < 200; j++ {
				_, err := m.OnPortfolioReceived(portfolio(id, map[models.Instrument]float64{aapl: float64(j % 5)}))
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("P%d", i%3)
			for j := 0; j < 200; j++ {
				if j%2 == 0 {
					_ = m.UpsertClient(id, models.StrategyParams{Mu: 0.1, Sigma: 0.3})
				} else {
					m.RemoveClient(id)
				}
				_ = m.Clients()
			}
		}(i)
	}
	wg.Wait()

	// The final state must equal a fresh recompute over what is cached.
	last := m.Last()
	require.NotNil(t, last)
	m.mu.Lock()
	want, _ := m.recomputeLocked()
	m.mu.Unlock()
	assert.Equal(t, want.ID, last.ID)
}
