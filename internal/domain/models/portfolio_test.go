package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aapl = Instrument{Type: "Equity", Symbol: "AAPL", Exchange: "NASDAQ"}

func TestDecodePortfolioFlat(t *testing.T) {
	raw := `{"multiplexer_id":"StratA","target_weights":[[{"type":"Equity","data":{"symbol":"AAPL","exchange":"NASDAQ"}},1.0]],"target_positions":null}`
	p, err := DecodePortfolio([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "StratA", p.ID)
	assert.Equal(t, map[Instrument]float64{aapl: 1.0}, p.Weights)
}

func TestDecodePortfolioWrappedWithStrategyID(t *testing.T) {
	raw := `{"type":"TargetPortfolio","data":{"strategy_id":"StratB","target_weights":[[{"type":"Equity","data":{"symbol":"AAPL","exchange":"NASDAQ"}},-0.5]]}}`
	p, err := DecodePortfolio([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "StratB", p.ID)
	assert.InDelta(t, -0.5, p.Weights[aapl], 1e-12)
}

func TestDecodePortfolioPrefersMultiplexerID(t *testing.T) {
	raw := `{"multiplexer_id":"M","strategy_id":"S","target_weights":[]}`
	p, err := DecodePortfolio([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "M", p.ID)
	assert.Empty(t, p.Weights)
}

func TestDecodePortfolioRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"multiplexer_id":`,
		"missing id":      `{"target_weights":[]}`,
		"empty id":        `{"multiplexer_id":"","target_weights":[]}`,
		"short pair":      `{"multiplexer_id":"A","target_weights":[[{"type":"Equity","data":{"symbol":"AAPL"}}]]}`,
		"weight not num":  `{"multiplexer_id":"A","target_weights":[[{"type":"Equity","data":{"symbol":"AAPL"}},"x"]]}`,
		"missing symbol":  `{"multiplexer_id":"A","target_weights":[[{"type":"Equity","data":{}},1]]}`,
		"array top level": `[1,2]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePortfolio([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodePortfolioMissingIDIsTyped(t *testing.T) {
	_, err := DecodePortfolio([]byte(`{"target_weights":[]}`))
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestEncodePortfolioShape(t *testing.T) {
	p := NewTargetPortfolio("KellyMux_Aggregated")
	p.Weights[aapl] = 1.125
	p.Weights[Instrument{Type: "Crypto", Symbol: "BTC", Exchange: "BINANCE"}] = 0.25

	b, err := EncodePortfolio(p, false)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "KellyMux_Aggregated", doc["multiplexer_id"])
	assert.Contains(t, doc, "target_positions")
	assert.Nil(t, doc["target_positions"])

	weights := doc["target_weights"].([]interface{})
	require.Len(t, weights, 2)
	// Crypto sorts before Equity.
	first := weights[0].([]interface{})
	inst := first[0].(map[string]interface{})
	assert.Equal(t, "Crypto", inst["type"])
	assert.Equal(t, "BTC", inst["data"].(map[string]interface{})["symbol"])
	assert.Equal(t, 0.25, first[1])
}

func TestEncodePortfolioEnvelopeDecodesBack(t *testing.T) {
	p := NewTargetPortfolio("agg")
	p.Weights[aapl] = 2

	b, err := EncodePortfolio(p, true)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"TargetPortfolio"`)

	back, err := DecodePortfolio(b)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestCloneIsDeep(t *testing.T) {
	p := NewTargetPortfolio("A")
	p.Weights[aapl] = 1
	c := p.Clone()
	c.Weights[aapl] = 5
	assert.Equal(t, 1.0, p.Weights[aapl])

	var nilP *TargetPortfolio
	assert.Nil(t, nilP.Clone())
	assert.True(t, nilP.IsEmpty())
	assert.True(t, (&TargetPortfolio{}).IsEmpty())
}

func TestStrategyParamsValidate(t *testing.T) {
	assert.NoError(t, StrategyParams{Mu: -1, Sigma: 0}.Validate())
	assert.ErrorIs(t, StrategyParams{Mu: 0.1, Sigma: -0.1}.Validate(), ErrInvalidParams)
}
