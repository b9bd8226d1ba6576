package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"marketpulse/internal/model"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "samples.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Close()

	ch := make(chan model.Sample, 8)
	for i := int64(1); i <= 5; i++ {
		ch <- model.Sample{Symbol: "AAPL", TS: time.Unix(i*100, 0).UTC(), Price: i * 1000, Volume: i}
	}
	// Re-ingest t=100 with a new price: must replace, not duplicate.
	ch <- model.Sample{Symbol: "AAPL", TS: time.Unix(100, 0).UTC(), Price: 9999, Volume: 1}
	close(ch)

	w.Run(context.Background(), ch) // returns when channel drains

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()

	samples, err := r.ReadSamples("AAPL", 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples (replace, not append), got %d", len(samples))
	}
	if samples[0].Price != 9999 {
		t.Errorf("t=100 price: got %d, want 9999 (replaced)", samples[0].Price)
	}
	for i := 1; i < len(samples); i++ {
		if !samples[i].TS.After(samples[i-1].TS) {
			t.Errorf("samples not ascending at %d", i)
		}
	}
}

func TestReadSamplesLimitKeepsNewest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "samples.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Close()

	ch := make(chan model.Sample, 16)
	for i := int64(1); i <= 10; i++ {
		ch <- model.Sample{Symbol: "MSFT", TS: time.Unix(i, 0).UTC(), Price: i, Volume: 1}
	}
	close(ch)
	w.Run(context.Background(), ch)

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()

	samples, err := r.ReadSamples("MSFT", 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].TS != time.Unix(8, 0).UTC() || samples[2].TS != time.Unix(10, 0).UTC() {
		t.Errorf("expected newest 3 ascending, got %v .. %v", samples[0].TS, samples[2].TS)
	}
}

func TestInstrumentLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "samples.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Close()

	if err := w.EnsureInstrument(model.Instrument{Symbol: "AAPL", Name: "Apple Inc."}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Re-ensuring is idempotent.
	if err := w.EnsureInstrument(model.Instrument{Symbol: "AAPL", Name: "Apple Inc."}); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if err := w.DeprecateInstrument("AAPL"); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()

	insts, err := r.ReadInstruments()
	if err != nil {
		t.Fatalf("read instruments: %v", err)
	}
	if len(insts) != 1 {
		t.Fatalf("expected 1 instrument, got %d", len(insts))
	}
	if !insts[0].Deprecated {
		t.Error("instrument should be soft-deprecated, not deleted")
	}
}
