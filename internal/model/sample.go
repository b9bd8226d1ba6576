package model

import (
	"encoding/json"
	"time"
)

// Sample is one immutable (instrument, timestamp) price/volume observation.
// Price is stored as int64 in cents to avoid floating-point drift.
type Sample struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`     // UTC
	Price  int64     `json:"price"`  // cents
	Volume int64     `json:"volume"` // traded quantity at this observation
}

// Key returns a unique key for this sample: "symbol@unixTS".
func (s *Sample) Key() string {
	return s.Symbol + "@" + s.TS.UTC().Format(time.RFC3339)
}

// PriceFloat returns the price in currency units (cents / 100).
func (s *Sample) PriceFloat() float64 {
	return float64(s.Price) / 100.0
}

// JSON returns the JSON-encoded sample (ignoring errors for hot-path usage).
func (s *Sample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Quote is the raw result of one external data-source fetch, before it is
// normalized into a stored Sample.
type Quote struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Price  int64     `json:"price"` // cents
	Volume int64     `json:"volume"`
}
