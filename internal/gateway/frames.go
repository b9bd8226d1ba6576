package gateway

import (
	"encoding/json"

	"marketpulse/internal/alert"
	"marketpulse/internal/model"
)

// Wire frames sent to the peer. Every frame carries a type tag so the
// client can dispatch without sniffing fields.

func updateFrame(u *model.Update) []byte {
	b, _ := json.Marshal(struct {
		Type   string        `json:"type"`
		Update *model.Update `json:"update"`
	}{Type: "update", Update: u})
	return b
}

func backfillFrame(symbol string, samples []model.Sample) []byte {
	b, _ := json.Marshal(struct {
		Type    string         `json:"type"`
		Symbol  string         `json:"symbol"`
		Samples []model.Sample `json:"samples"`
	}{Type: "backfill", Symbol: symbol, Samples: samples})
	return b
}

func alertFrame(t alert.Triggered) []byte {
	b, _ := json.Marshal(struct {
		Type    string       `json:"type"`
		Message string       `json:"message"`
		Rule    alert.Rule   `json:"rule"`
		Update  model.Update `json:"update"`
	}{Type: "alert", Message: t.Message(), Rule: t.Rule, Update: t.Update})
	return b
}
