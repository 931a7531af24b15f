package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMissingID is returned when a portfolio payload carries neither
// multiplexer_id nor strategy_id.
var ErrMissingID = errors.New("portfolio id missing")

// Instrument identifies a tradable asset. It is comparable and used as a map key.
type Instrument struct {
	Type     string
	Symbol   string
	Exchange string
}

// Less orders instruments by type, symbol, then exchange.
func (i Instrument) Less(o Instrument) bool {
	if i.Type != o.Type {
		return i.Type < o.Type
	}
	if i.Symbol != o.Symbol {
		return i.Symbol < o.Symbol
	}
	return i.Exchange < o.Exchange
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s:%s@%s", i.Type, i.Symbol, i.Exchange)
}

type instrumentData struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type instrumentWire struct {
	Type string         `json:"type"`
	Data instrumentData `json:"data"`
}

// MarshalJSON encodes the instrument as {"type": ..., "data": {"symbol": ..., "exchange": ...}}.
func (i Instrument) MarshalJSON() ([]byte, error) {
	return json.Marshal(instrumentWire{
		Type: i.Type,
		Data: instrumentData{Symbol: i.Symbol, Exchange: i.Exchange},
	})
}

func (i *Instrument) UnmarshalJSON(b []byte) error {
	var w instrumentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Data.Symbol == "" {
		return fmt.Errorf("instrument symbol missing")
	}
	*i = Instrument{Type: w.Type, Symbol: w.Data.Symbol, Exchange: w.Data.Exchange}
	return nil
}

// TargetPortfolio is a desired instrument -> conviction weight mapping.
// Weights are not clamped here.
type TargetPortfolio struct {
	ID      string
	Weights map[Instrument]float64
}

// NewTargetPortfolio returns a portfolio with an initialized weight map.
func NewTargetPortfolio(id string) *TargetPortfolio {
	return &TargetPortfolio{ID: id, Weights: make(map[Instrument]float64)}
}

// IsEmpty reports whether the portfolio is the unidentified "do not publish" value.
func (p *TargetPortfolio) IsEmpty() bool {
	return p == nil || p.ID == ""
}

// Instruments returns the portfolio's instruments in sorted order.
func (p *TargetPortfolio) Instruments() []Instrument {
	out := make([]Instrument, 0, len(p.Weights))
	for inst := range p.Weights {
		out = append(out, inst)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Less(out[b]) })
	return out
}

// Clone returns a deep copy.
func (p *TargetPortfolio) Clone() *TargetPortfolio {
	if p == nil {
		return nil
	}
	c := &TargetPortfolio{ID: p.ID, Weights: make(map[Instrument]float64, len(p.Weights))}
	for k, v := range p.Weights {
		c.Weights[k] = v
	}
	return c
}

// weightEntry is the [Instrument, weight] pair of the wire format.
type weightEntry struct {
	Instrument Instrument
	Weight     float64
}

func (e weightEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Instrument, e.Weight})
}

func (e *weightEntry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("weight entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("weight entry: expected [instrument, weight], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Instrument); err != nil {
		return fmt.Errorf("weight entry instrument: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Weight); err != nil {
		return fmt.Errorf("weight entry weight: %w", err)
	}
	return nil
}

type portfolioWire struct {
	MultiplexerID   *string         `json:"multiplexer_id,omitempty"`
	StrategyID      *string         `json:"strategy_id,omitempty"`
	TargetWeights   []weightEntry   `json:"target_weights"`
	TargetPositions json.RawMessage `json:"target_positions"`
}

// PortfolioEnvelopeType is the type tag used when a portfolio is wrapped in an envelope.
const PortfolioEnvelopeType = "TargetPortfolio"

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var jsonNull = json.RawMessage("null")

// MarshalJSON writes the flat wire shape with weights in instrument order.
func (p TargetPortfolio) MarshalJSON() ([]byte, error) {
	id := p.ID
	w := portfolioWire{
		MultiplexerID:   &id,
		TargetWeights:   make([]weightEntry, 0, len(p.Weights)),
		TargetPositions: jsonNull,
	}
	for _, inst := range p.Instruments() {
		w.TargetWeights = append(w.TargetWeights, weightEntry{Instrument: inst, Weight: p.Weights[inst]})
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts a flat document or one wrapped under "data", and
// either multiplexer_id or strategy_id (multiplexer_id wins when both exist).
func (p *TargetPortfolio) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
		b = d
	}

	var w portfolioWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var id string
	switch {
	case w.MultiplexerID != nil && *w.MultiplexerID != "":
		id = *w.MultiplexerID
	case w.StrategyID != nil && *w.StrategyID != "":
		id = *w.StrategyID
	default:
		return ErrMissingID
	}

	out := NewTargetPortfolio(id)
	for _, e := range w.TargetWeights {
		out.Weights[e.Instrument] = e.Weight
	}
	*p = *out
	return nil
}

// DecodePortfolio parses an ingest payload.
func DecodePortfolio(b []byte) (*TargetPortfolio, error) {
	var p TargetPortfolio
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio: %w", err)
	}
	return &p, nil
}

// EncodePortfolio serializes p, optionally wrapped as {"type": "TargetPortfolio", "data": {...}}.
func EncodePortfolio(p *TargetPortfolio, wrap bool) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode portfolio: %w", err)
	}
	if !wrap {
		return body, nil
	}
	return json.Marshal(envelope{Type: PortfolioEnvelopeType, Data: body})
}
