// Package simfeed is a simulated quote source for local runs and tests.
// Prices follow a small random walk per symbol; no credentials required.
package simfeed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"marketpulse/internal/model"
)

const defaultStartPrice = 100_00 // cents

// Feed generates random-walk quotes per symbol. Safe for concurrent use.
type Feed struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]int64
	last   map[string]int64 // last price delta sign, drives sim headlines
}

// New creates a Feed. A fixed seed gives reproducible walks in tests.
func New(seed int64) *Feed {
	return &Feed{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]int64),
		last:   make(map[string]int64),
	}
}

// FetchLatest returns the next step of the symbol's random walk,
// timestamped at the current second.
func (f *Feed) FetchLatest(_ context.Context, symbol string) (model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		price = defaultStartPrice
	}
	next := walkPrice(f.rng, price)
	f.prices[symbol] = next
	f.last[symbol] = next - price

	return model.Quote{
		Symbol: symbol,
		TS:     time.Now().UTC().Truncate(time.Second),
		Price:  next,
		Volume: int64(f.rng.Intn(1000) + 1),
	}, nil
}

// FetchHeadlines returns simulated headlines biased by the symbol's last
// price move, so sentiment roughly tracks the walk.
func (f *Feed) FetchHeadlines(_ context.Context, symbol string) ([]string, error) {
	f.mu.Lock()
	delta := f.last[symbol]
	f.mu.Unlock()

	switch {
	case delta > 0:
		return []string{symbol + " shares rise on strong demand"}, nil
	case delta < 0:
		return []string{symbol + " shares fall as traders lock in gains"}, nil
	default:
		return []string{symbol + " little changed in quiet trading"}, nil
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(rng *rand.Rand, price int64) int64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	delta := int64(float64(price) * pct)
	next := price + delta
	if next < 1 { // floor at 1 cent
		next = 1
	}
	return next
}
