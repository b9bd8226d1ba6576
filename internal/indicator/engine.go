// Package indicator derives technical signals from a bounded window of
// samples. Compute is a pure function: no I/O, deterministic for a given
// window, safe to call from any goroutine.
package indicator

import (
	"fmt"

	"marketpulse/internal/model"
)

// Config holds the oscillator semantics. Band boundaries are configuration,
// not hard-coded, but the comparison directions are fixed: value <= Oversold
// and value >= Overbought, so classification at the boundary is deterministic.
type Config struct {
	Period     int     // window length, e.g. 14
	Oversold   float64 // e.g. 30
	Overbought float64 // e.g. 70
}

// Engine computes indicator snapshots over sample windows.
type Engine struct {
	cfg Config
}

// NewEngine validates the config and returns an Engine. Invalid numeric
// semantics are a startup error, never silently defaulted.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Period < 2 {
		return nil, fmt.Errorf("indicator: period must be >= 2, got %d", cfg.Period)
	}
	if cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("indicator: oversold (%.2f) must be below overbought (%.2f)",
			cfg.Oversold, cfg.Overbought)
	}
	if cfg.Oversold < 0 || cfg.Overbought > 100 {
		return nil, fmt.Errorf("indicator: bands must lie in [0, 100]")
	}
	return &Engine{cfg: cfg}, nil
}

// MinWindow returns the minimum window length Compute needs to produce a
// ready oscillator: period deltas require period+1 samples.
func (e *Engine) MinWindow() int { return e.cfg.Period + 1 }

// Compute derives a snapshot from the window (ascending by timestamp).
// Windows shorter than MinWindow return Ready=false rather than an error.
// Sentiment fields default to Unknown; the caller merges in the textual
// score separately so a sentiment-source failure never touches this path.
func (e *Engine) Compute(window []model.Sample) model.IndicatorSnapshot {
	snap := model.IndicatorSnapshot{
		SentimentLabel: model.SentimentUnknown,
	}
	if len(window) == 0 {
		return snap
	}
	last := window[len(window)-1]
	snap.Symbol = last.Symbol
	snap.AsOf = last.TS

	if len(window) < e.MinWindow() {
		return snap // insufficient window, sentinel state rather than an error
	}

	snap.Oscillator = oscillate(window, e.cfg.Period)
	snap.Band = e.Classify(snap.Oscillator)
	snap.Ready = true
	return snap
}

// Classify maps an oscillator value in [0, 100] to its band label.
// Boundaries are inclusive: <= oversold buys, >= overbought sells.
func (e *Engine) Classify(value float64) string {
	switch {
	case value <= e.cfg.Oversold:
		return model.BandBuy
	case value >= e.cfg.Overbought:
		return model.BandSell
	default:
		return model.BandNeutral
	}
}
