// Package alert evaluates tenant-owned threshold rules against ingested
// updates. Rules are plain comparisons from a closed operator set; there is
// no expression language, so a rule can be validated completely at create
// time and evaluated without any interpreter.
package alert

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketpulse/internal/model"
)

// Field selects the update quantity a rule compares against.
type Field string

const (
	FieldPrice      Field = "price"
	FieldOscillator Field = "oscillator"
	FieldSentiment  Field = "sentiment"
)

// Operator is a comparison operator for rule thresholds.
type Operator string

const (
	OperatorLessThan    Operator = "lt"
	OperatorGreaterThan Operator = "gt"
	OperatorEqual       Operator = "eq"
)

// Rule is a single threshold rule owned by a tenant.
type Rule struct {
	ID       int64           `json:"id"`
	TenantID string          `json:"tenant_id"`
	Symbol   string          `json:"symbol"`
	Field    Field           `json:"field"`
	Op       Operator        `json:"op"`
	Value    decimal.Decimal `json:"value"`
}

// Validate rejects rules outside the closed field/operator sets.
func (r Rule) Validate() error {
	if r.TenantID == "" || r.Symbol == "" {
		return fmt.Errorf("alert: tenant and symbol are required")
	}
	switch r.Field {
	case FieldPrice, FieldOscillator, FieldSentiment:
	default:
		return fmt.Errorf("alert: unknown field %q", r.Field)
	}
	switch r.Op {
	case OperatorLessThan, OperatorGreaterThan, OperatorEqual:
	default:
		return fmt.Errorf("alert: unknown operator %q", r.Op)
	}
	return nil
}

// fieldValue extracts the rule's field from an update. ok is false when the
// field is not comparable yet (warming-up oscillator, unknown sentiment).
func fieldValue(r Rule, u model.Update) (decimal.Decimal, bool) {
	switch r.Field {
	case FieldPrice:
		return decimal.New(u.Price, -2), true
	case FieldOscillator:
		if !u.Snapshot.Ready {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(u.Snapshot.Oscillator), true
	case FieldSentiment:
		switch u.Snapshot.SentimentLabel {
		case model.SentimentPositive, model.SentimentNegative, model.SentimentNeutral:
			return decimal.NewFromFloat(u.Snapshot.SentimentScore), true
		}
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

// Matches reports whether the update satisfies the rule.
func (r Rule) Matches(u model.Update) bool {
	if u.Symbol != r.Symbol {
		return false
	}
	v, ok := fieldValue(r, u)
	if !ok {
		return false
	}
	switch r.Op {
	case OperatorLessThan:
		return v.LessThan(r.Value)
	case OperatorGreaterThan:
		return v.GreaterThan(r.Value)
	case OperatorEqual:
		return v.Equal(r.Value)
	}
	return false
}

// Triggered is a rule firing for a concrete update.
type Triggered struct {
	Rule   Rule
	Update model.Update
}

// Message renders a human-readable alert line.
func (t Triggered) Message() string {
	return fmt.Sprintf("%s %s %s %s (rule %d)",
		t.Update.Symbol, t.Rule.Field, t.Rule.Op, t.Rule.Value.String(), t.Rule.ID)
}
