package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/model"
)

func sample(symbol string, unixTS int64, price int64) model.Sample {
	return model.Sample{
		Symbol: symbol,
		TS:     time.Unix(unixTS, 0).UTC(),
		Price:  price,
		Volume: 10,
	}
}

// TestUpsertReplaceScenario covers the ingest-replace contract: AAPL 150.00
// at t=1000, re-ingested at the same timestamp with 151.00, replaces rather
// than appends.
func TestUpsertReplaceScenario(t *testing.T) {
	ts := New()

	if _, err := ts.Upsert(sample("AAPL", 1000, 15000)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := ts.RangeQuery("AAPL", time.Unix(0, 0), time.Unix(2000, 0), 10)
	if err != nil {
		t.Fatalf("rangeQuery: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0].PriceFloat() != 150.00 {
		t.Errorf("price: got %.2f, want 150.00", got[0].PriceFloat())
	}

	if _, err := ts.Upsert(sample("AAPL", 1000, 15100)); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = ts.RangeQuery("AAPL", time.Unix(0, 0), time.Unix(2000, 0), 10)
	if err != nil {
		t.Fatalf("rangeQuery: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample after replace, got %d", len(got))
	}
	if got[0].PriceFloat() != 151.00 {
		t.Errorf("replaced price: got %.2f, want 151.00", got[0].PriceFloat())
	}
}

func TestUpsertIdempotent(t *testing.T) {
	ts := New()

	s := sample("AAPL", 1000, 15000)
	if _, err := ts.Upsert(s); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	unchanged, err := ts.Upsert(s)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !unchanged {
		t.Error("identical re-upsert should report unchanged")
	}
	if n := ts.Count("AAPL"); n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

func TestUpsertUnchangedFalseOnNewValue(t *testing.T) {
	ts := New()
	ts.Upsert(sample("AAPL", 1000, 15000))
	unchanged, err := ts.Upsert(sample("AAPL", 1000, 15100))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if unchanged {
		t.Error("different value at same TS must not report unchanged")
	}
}

func TestUpsertInvalidArgument(t *testing.T) {
	ts := New()
	cases := []model.Sample{
		{Symbol: "", TS: time.Unix(1000, 0), Price: 100},
		{Symbol: "AAPL", Price: 100}, // zero TS
		{Symbol: "AAPL", TS: time.Unix(1000, 0), Price: -1},
	}
	for i, s := range cases {
		if _, err := ts.Upsert(s); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("case %d: got %v, want ErrInvalidArgument", i, err)
		}
	}
}

func TestRangeQueryOrderingAndBounds(t *testing.T) {
	ts := New()
	// Insert out of order; storage order must come out ascending.
	for _, u := range []int64{3000, 1000, 2000, 5000, 4000} {
		if _, err := ts.Upsert(sample("MSFT", u, u)); err != nil {
			t.Fatalf("upsert %d: %v", u, err)
		}
	}

	got, err := ts.RangeQuery("MSFT", time.Unix(1000, 0), time.Unix(4000, 0), 100)
	if err != nil {
		t.Fatalf("rangeQuery: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 samples in range, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].TS.After(got[i-1].TS) {
			t.Errorf("samples not ascending at %d: %v then %v", i, got[i-1].TS, got[i].TS)
		}
	}
}

func TestRangeQueryMaxPointsKeepsNewest(t *testing.T) {
	ts := New()
	for u := int64(1); u <= 10; u++ {
		ts.Upsert(sample("AAPL", u*100, u))
	}
	got, err := ts.RangeQuery("AAPL", time.Time{}, time.Time{}, 3)
	if err != nil {
		t.Fatalf("rangeQuery: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[0].TS != time.Unix(800, 0).UTC() || got[2].TS != time.Unix(1000, 0).UTC() {
		t.Errorf("expected newest 3 ascending, got %v .. %v", got[0].TS, got[2].TS)
	}
}

func TestRangeQueryEmptyAndInvalid(t *testing.T) {
	ts := New()

	got, err := ts.RangeQuery("NOPE", time.Unix(0, 0), time.Unix(100, 0), 10)
	if err != nil {
		t.Fatalf("empty range should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}

	if _, err := ts.RangeQuery("", time.Unix(0, 0), time.Unix(100, 0), 10); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty symbol: got %v, want ErrInvalidArgument", err)
	}
	if _, err := ts.RangeQuery("AAPL", time.Unix(200, 0), time.Unix(100, 0), 10); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("inverted range: got %v, want ErrInvalidArgument", err)
	}
}

// TestRangeQueryFreshSlice verifies repeated calls materialize independent
// sequences: mutating one result must not affect the next.
func TestRangeQueryFreshSlice(t *testing.T) {
	ts := New()
	ts.Upsert(sample("AAPL", 1000, 15000))

	a, _ := ts.RangeQuery("AAPL", time.Time{}, time.Time{}, 10)
	a[0].Price = -999

	b, _ := ts.RangeQuery("AAPL", time.Time{}, time.Time{}, 10)
	if b[0].Price != 15000 {
		t.Errorf("stored sample mutated through query result: %d", b[0].Price)
	}
}

func TestWindowAndLatest(t *testing.T) {
	ts := New()
	for u := int64(1); u <= 20; u++ {
		ts.Upsert(sample("AAPL", u, u*100))
	}

	w := ts.Window("AAPL", 14)
	if len(w) != 14 {
		t.Fatalf("window: got %d, want 14", len(w))
	}
	if w[13].TS != time.Unix(20, 0).UTC() {
		t.Errorf("window should end at newest sample, got %v", w[13].TS)
	}

	latest, ok := ts.Latest("AAPL")
	if !ok || latest.Price != 2000 {
		t.Errorf("latest: got %+v ok=%v", latest, ok)
	}
	if _, ok := ts.Latest("NOPE"); ok {
		t.Error("latest for unknown symbol should report not found")
	}
}

// TestConcurrentUpsertsDistinctInstruments exercises the per-instrument
// serialization discipline: concurrent writers to different symbols and to
// the same symbol must leave a consistent, duplicate-free store.
func TestConcurrentUpsertsDistinctInstruments(t *testing.T) {
	ts := New()
	symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				for u := int64(1); u <= 100; u++ {
					if _, err := ts.Upsert(sample(sym, u, u)); err != nil {
						t.Errorf("upsert %s/%d: %v", sym, u, err)
						return
					}
				}
			}(sym)
		}
	}
	wg.Wait()

	for _, sym := range symbols {
		if n := ts.Count(sym); n != 100 {
			t.Errorf("%s: got %d samples, want 100 (duplicates or losses)", sym, n)
		}
		got, err := ts.RangeQuery(sym, time.Time{}, time.Time{}, 200)
		if err != nil {
			t.Fatalf("rangeQuery %s: %v", sym, err)
		}
		for i := 1; i < len(got); i++ {
			if !got[i].TS.After(got[i-1].TS) {
				t.Errorf("%s: ordering violated at %d", sym, i)
			}
		}
	}
}
