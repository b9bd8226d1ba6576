package alert

import (
	"sync"

	"marketpulse/internal/model"
)

// Engine holds the active rule set in memory and evaluates each update
// against the rules registered for its instrument. Evaluation sits on the
// ingestion path, so rules are indexed by symbol.
type Engine struct {
	mu     sync.RWMutex
	nextID int64
	rules  map[string][]Rule // symbol -> rules
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{nextID: 1, rules: make(map[string][]Rule)}
}

// Add validates and registers a rule, returning it with its assigned ID.
func (e *Engine) Add(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.ID = e.nextID
	e.nextID++
	e.rules[r.Symbol] = append(e.rules[r.Symbol], r)
	return r, nil
}

// Remove deletes a rule by ID. Removing an unknown ID is a no-op.
func (e *Engine) Remove(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, rules := range e.rules {
		for i, r := range rules {
			if r.ID == id {
				e.rules[symbol] = append(rules[:i], rules[i+1:]...)
				if len(e.rules[symbol]) == 0 {
					delete(e.rules, symbol)
				}
				return
			}
		}
	}
}

// ListByTenant returns a tenant's rules.
func (e *Engine) ListByTenant(tenantID string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Rule
	for _, rules := range e.rules {
		for _, r := range rules {
			if r.TenantID == tenantID {
				out = append(out, r)
			}
		}
	}
	return out
}

// Evaluate returns every rule the update triggers. Triggered alerts belong
// to the owning tenant; routing them there is the caller's job.
func (e *Engine) Evaluate(u model.Update) []Triggered {
	e.mu.RLock()
	rules := e.rules[u.Symbol]
	e.mu.RUnlock()

	var out []Triggered
	for _, r := range rules {
		if r.Matches(u) {
			out = append(out, Triggered{Rule: r, Update: u})
		}
	}
	return out
}
