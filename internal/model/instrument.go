package model

// Instrument represents a tracked tradeable symbol and its shared metadata.
// Instruments are global resources: created on first reference, never deleted.
type Instrument struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Deprecated bool   `json:"deprecated,omitempty"`
}
