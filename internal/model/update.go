package model

import (
	"encoding/json"
	"time"
)

// Update is the "instrument updated" event emitted by the ingestion scheduler
// after a successful fetch + upsert. Delivery is at-most-once, best-effort.
type Update struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Price  int64     `json:"price"` // cents
	Volume int64     `json:"volume"`

	// Unchanged marks a liveness re-publish of a sample identical to the
	// previously stored value, so consumers can suppress redundant churn.
	Unchanged bool `json:"unchanged,omitempty"`

	Snapshot IndicatorSnapshot `json:"snapshot"`
}

// JSON returns the JSON-encoded update.
func (u *Update) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
