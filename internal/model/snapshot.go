package model

import (
	"encoding/json"
	"time"
)

// Oscillator band labels. Band boundaries are configuration; the labels are fixed.
const (
	BandBuy     = "BUY (Oversold)"
	BandSell    = "SELL (Overbought)"
	BandNeutral = "NEUTRAL"
)

// Sentiment labels derived from the bounded [-1, 1] score.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentUnknown  = "unknown" // headline source unavailable
)

// IndicatorSnapshot is a derived, re-computable analytics value over a window
// of samples. It is ephemeral: never authoritative, always re-derivable.
type IndicatorSnapshot struct {
	Symbol string    `json:"symbol"`
	AsOf   time.Time `json:"as_of"`

	// Oscillator in [0, 100]. Ready is false when the window was shorter
	// than the configured period; Oscillator and Band are zero-valued then.
	Oscillator float64 `json:"oscillator"`
	Band       string  `json:"band,omitempty"`
	Ready      bool    `json:"ready"`

	// Sentiment in [-1, 1] with a three-way label. Degrades to
	// SentimentUnknown when the headline source fails.
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
}

// JSON returns the JSON-encoded snapshot.
func (s *IndicatorSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
