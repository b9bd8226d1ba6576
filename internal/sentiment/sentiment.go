// Package sentiment scores headline text into a bounded [-1, 1] signal with
// a three-way label. It runs fully independently of the price path: a
// headline-source failure degrades to an Unknown label and never blocks or
// fails price-indicator computation.
package sentiment

import (
	"context"
	"log"
	"strings"

	"marketpulse/internal/model"
)

// Source fetches the recent headline window for a symbol. Implementations
// must be safe for concurrent calls on distinct symbols.
type Source interface {
	FetchHeadlines(ctx context.Context, symbol string) ([]string, error)
}

// Config holds the label thresholds: score >= Positive is positive,
// score <= Negative is negative, otherwise neutral.
type Config struct {
	Positive float64 // e.g. 0.05
	Negative float64 // e.g. -0.05
}

// Scorer computes lexicon-based sentiment scores. Score is a pure function
// of the headline window, deterministic for a given input.
type Scorer struct {
	cfg     Config
	lexicon map[string]float64
}

// lexicon maps sentiment-bearing words to weights. Small and fixed: the
// point is a cheap, deterministic signal, not NLP accuracy.
var defaultLexicon = map[string]float64{
	"beat": 1, "beats": 1, "surge": 1, "surges": 1, "rally": 1, "record": 1,
	"gain": 1, "gains": 1, "growth": 1, "profit": 1, "upgrade": 1, "upgraded": 1,
	"strong": 1, "bullish": 1, "outperform": 1, "soar": 1, "soars": 1, "jump": 1,
	"jumps": 1, "rise": 1, "rises": 1, "up": 0.5, "high": 0.5, "positive": 1,

	"miss": -1, "misses": -1, "plunge": -1, "plunges": -1, "slump": -1,
	"loss": -1, "losses": -1, "decline": -1, "declines": -1, "downgrade": -1,
	"downgraded": -1, "weak": -1, "bearish": -1, "underperform": -1, "crash": -1,
	"drop": -1, "drops": -1, "fall": -1, "falls": -1, "down": -0.5, "low": -0.5,
	"lawsuit": -1, "recall": -1, "fraud": -1, "negative": -1,
}

// NewScorer creates a Scorer with the default lexicon.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, lexicon: defaultLexicon}
}

// Score computes the aggregate sentiment of a headline window, bounded to
// [-1, 1]. An empty window scores 0.
func (s *Scorer) Score(headlines []string) float64 {
	if len(headlines) == 0 {
		return 0
	}
	var total float64
	for _, h := range headlines {
		total += s.scoreOne(h)
	}
	score := total / float64(len(headlines))
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

// scoreOne scores a single headline: matched lexicon weight sum normalized
// by token count, clamped to [-1, 1].
func (s *Scorer) scoreOne(headline string) float64 {
	fields := strings.Fields(strings.ToLower(headline))
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()")
		sum += s.lexicon[f]
	}
	score := sum / float64(len(fields))
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

// Label maps a score to its three-way label using the configured thresholds.
// Boundaries are inclusive: >= Positive and <= Negative.
func (s *Scorer) Label(score float64) string {
	switch {
	case score >= s.cfg.Positive:
		return model.SentimentPositive
	case score <= s.cfg.Negative:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// Analyze fetches the headline window and scores it. A source failure
// degrades to (0, unknown); it is logged, never propagated.
func (s *Scorer) Analyze(ctx context.Context, src Source, symbol string) (float64, string) {
	if src == nil {
		return 0, model.SentimentUnknown
	}
	headlines, err := src.FetchHeadlines(ctx, symbol)
	if err != nil {
		log.Printf("[sentiment] headline fetch failed for %s: %v (degrading to unknown)", symbol, err)
		return 0, model.SentimentUnknown
	}
	score := s.Score(headlines)
	return score, s.Label(score)
}
