// Package feed defines the external data-source contract consumed by the
// ingestion scheduler. Provider internals are out of scope for the engine;
// anything that can answer FetchLatest under a caller-imposed timeout plugs in.
package feed

import (
	"context"
	"errors"

	"marketpulse/internal/model"
)

// ErrUnknownSymbol indicates the provider does not track the symbol.
var ErrUnknownSymbol = errors.New("feed: unknown symbol")

// Source fetches the latest observation for one instrument. Implementations
// must be safely callable concurrently for distinct instruments; the caller
// bounds every call with a context timeout.
type Source interface {
	FetchLatest(ctx context.Context, symbol string) (model.Quote, error)
}
