package model

import "context"

// ── Port interfaces ──
// These decouple the engine core from concrete collaborators (SQLite, Redis,
// external feeds, auth). Each implementation satisfies one or more of these.

// SampleSink persists samples off the hot path (e.g. SQLite batch writer,
// Redis latest-value cache). Run blocks until ctx is cancelled or the
// channel is closed.
type SampleSink interface {
	Run(ctx context.Context, sampleCh <-chan Sample)
	Close() error
}

// UpdatePublisher mirrors update events to an external bus (e.g. Redis
// pub/sub) for consumers outside this process. Best-effort.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u Update)
}

// WatchlistSource resolves a tenant's current authorized-instrument set.
// Must be cheap to call frequently: the gate queries it on every
// authorization refresh cycle.
type WatchlistSource interface {
	ListAuthorizedInstruments(ctx context.Context, tenantID string) (map[string]bool, error)
}
