package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned for strategy parameters that break the sigma >= 0 invariant.
var ErrInvalidParams = errors.New("invalid strategy params")

// StrategyParams holds a producer's annualized expected excess return and volatility.
type StrategyParams struct {
	Mu    float64 `json:"mu" yaml:"mu"`
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

// Validate checks sigma >= 0 and that both values are finite.
func (p StrategyParams) Validate() error {
	if math.IsNaN(p.Mu) || math.IsInf(p.Mu, 0) {
		return fmt.Errorf("%w: mu must be finite", ErrInvalidParams)
	}
	if math.IsNaN(p.Sigma) || math.IsInf(p.Sigma, 0) {
		return fmt.Errorf("%w: sigma must be finite", ErrInvalidParams)
	}
	if p.Sigma < 0 {
		return fmt.Errorf("%w: sigma must be >= 0, got %g", ErrInvalidParams, p.Sigma)
	}
	return nil
}

// ClientInfo is a registry snapshot row.
type ClientInfo struct {
	ID           string  `json:"id"`
	Mu           float64 `json:"mu"`
	Sigma        float64 `json:"sigma"`
	HasPortfolio bool    `json:"has_portfolio"`
}
