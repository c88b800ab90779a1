package dataset

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/history"
	"github.com/John-Swindell/data-engineering/internal/storage/memory"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fp(v float64) *float64 { return &v }

func obs(coinID, date string, close float64) domain.DailyObservation {
	return domain.DailyObservation{Date: day(date), CoinID: coinID, Close: fp(close)}
}

type stubHistories struct {
	rows   map[string][]domain.DailyObservation
	status map[string]history.FetchStatus
	errs   map[string]error
	calls  map[string]int
}

func (s *stubHistories) CoinHistory(ctx context.Context, coinID string) ([]domain.DailyObservation, history.FetchStatus, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[coinID]++

	if err := s.errs[coinID]; err != nil {
		return nil, history.StatusSkipped, err
	}
	rows, ok := s.rows[coinID]
	if !ok {
		return nil, history.StatusSkipped, nil
	}
	status := s.status[coinID]
	if status == "" {
		status = history.StatusFetched
	}
	return rows, status, nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newAssembler(t *testing.T, opts Options) *Assembler {
	t.Helper()
	if opts.StartDate.IsZero() {
		opts.StartDate = day("2022-01-01")
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAssemble_PointInTimeSlices(t *testing.T) {
	// The full cached history runs through March, but the universe only
	// covers January and February. February's slice ends at its snapshot
	// date, so the March row must never reach the panel.
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"xcoin": {
				obs("xcoin", "2022-01-01", 1),
				obs("xcoin", "2022-02-01", 2),
				obs("xcoin", "2022-03-15", 3),
			},
		},
	}
	a := newAssembler(t, Options{History: histories})

	snapshot := domain.UniverseSnapshot{
		"2022-01-01": {"xcoin"},
		"2022-02-01": {"xcoin"},
	}
	rows, result, err := a.Assemble(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Date.After(day("2022-02-01")) {
			t.Fatalf("row beyond the last snapshot date leaked: %v", r.Date)
		}
	}
	if result.Rows != 2 || result.Periods != 2 || result.Assets != 1 {
		t.Fatalf("result = %+v", result)
	}
	if histories.calls["xcoin"] != 1 {
		t.Fatalf("history fetched %d times, want 1", histories.calls["xcoin"])
	}
}

func TestAssemble_UniqueByCoinAndDate(t *testing.T) {
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"btc": {obs("btc", "2022-01-01", 100)},
		},
	}
	a := newAssembler(t, Options{History: histories})

	// The same row is contributed by three periods; one must survive.
	snapshot := domain.UniverseSnapshot{
		"2022-01-01": {"btc"},
		"2022-02-01": {"btc"},
		"2022-03-01": {"btc"},
	}
	rows, _, err := a.Assemble(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
}

func TestAssemble_CanonicalizationCollapsesWrappers(t *testing.T) {
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"bitcoin":         {obs("bitcoin", "2022-01-01", 100)},
			"wrapped-bitcoin": {obs("wrapped-bitcoin", "2022-01-01", 101)},
			"ethereum":        {obs("ethereum", "2022-01-01", 10)},
		},
	}
	a := newAssembler(t, Options{
		History:   histories,
		Canonical: domain.DefaultCanonicalMap(),
	})

	snapshot := domain.UniverseSnapshot{
		"2022-01-01": {"bitcoin", "ethereum", "wrapped-bitcoin"},
	}
	rows, _, err := a.Assemble(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (wrapper collapsed): %+v", len(rows), rows)
	}
	var btc *domain.DailyObservation
	for i := range rows {
		if rows[i].CanonicalID == "bitcoin" {
			btc = &rows[i]
		}
	}
	if btc == nil {
		t.Fatal("no bitcoin row")
	}
	// Keep-last: the wrapper appears later in the member list, so its row
	// wins the canonical slot.
	if btc.CoinID != "wrapped-bitcoin" || *btc.Close != 101 {
		t.Fatalf("wrong survivor: %+v", btc)
	}
}

func TestAssemble_FiltersBeforeStartDate(t *testing.T) {
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"btc": {
				obs("btc", "2021-12-31", 90),
				obs("btc", "2022-01-01", 100),
			},
		},
	}
	a := newAssembler(t, Options{History: histories})

	rows, _, err := a.Assemble(context.Background(), domain.UniverseSnapshot{"2022-01-01": {"btc"}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(rows) != 1 || !rows[0].Date.Equal(day("2022-01-01")) {
		t.Fatalf("pre-start rows not filtered: %+v", rows)
	}
}

func TestAssemble_SkippedAssetsAreCounted(t *testing.T) {
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"good":   {obs("good", "2022-01-01", 1)},
			"cached": {obs("cached", "2022-01-01", 2)},
		},
		status: map[string]history.FetchStatus{
			"cached": history.StatusCacheHit,
		},
	}
	a := newAssembler(t, Options{History: histories})

	snapshot := domain.UniverseSnapshot{"2022-01-01": {"good", "cached", "gone"}}
	rows, result, err := a.Assemble(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Fetched != 1 || result.CacheHits != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestAssemble_AllSkippedIsEmptyDataset(t *testing.T) {
	a := newAssembler(t, Options{History: &stubHistories{}})

	_, _, err := a.Assemble(context.Background(), domain.UniverseSnapshot{"2022-01-01": {"gone"}})
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestAssemble_RecordsProgressAndPanel(t *testing.T) {
	histories := &stubHistories{
		rows: map[string][]domain.DailyObservation{
			"btc": {obs("btc", "2022-01-01", 100)},
		},
	}
	progress := memory.NewProgressStore()
	panel := memory.NewPanelStore()
	a := newAssembler(t, Options{
		History:  histories,
		Progress: progress,
		Panel:    panel,
	})

	snapshot := domain.UniverseSnapshot{"2022-01-01": {"btc", "gone"}}
	if _, _, err := a.Assemble(context.Background(), snapshot); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	ctx := context.Background()
	got, err := progress.GetByAssetID(ctx, "btc")
	if err != nil {
		t.Fatalf("progress for btc: %v", err)
	}
	if got.Status != string(history.StatusFetched) || got.Rows != 1 {
		t.Fatalf("btc progress = %+v", got)
	}

	skipped, err := progress.GetByAssetID(ctx, "gone")
	if err != nil {
		t.Fatalf("progress for gone: %v", err)
	}
	if skipped.Status != string(history.StatusSkipped) || skipped.Reason == "" {
		t.Fatalf("gone progress = %+v", skipped)
	}

	stored, err := panel.GetByCanonicalID(ctx, "btc")
	if err != nil {
		t.Fatalf("panel rows: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("panel has %d rows, want 1", len(stored))
	}
}

func TestAssemble_ProviderErrorAborts(t *testing.T) {
	histories := &stubHistories{
		errs: map[string]error{"btc": errors.New("cache backend corrupt")},
	}
	a := newAssembler(t, Options{History: histories})

	_, _, err := a.Assemble(context.Background(), domain.UniverseSnapshot{"2022-01-01": {"btc"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteAndReadArtifact(t *testing.T) {
	rows := []domain.DailyObservation{
		{Date: day("2022-01-01"), CoinID: "btc", CanonicalID: "bitcoin", Close: fp(100), MarketCap: fp(1e9)},
		{Date: day("2022-01-02"), CoinID: "btc", CanonicalID: "bitcoin", Close: fp(101)},
	}

	path := filepath.Join(t.TempDir(), "panel.parquet")
	if err := WriteArtifact(path, rows); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if !got[0].Date.Equal(day("2022-01-01")) || *got[0].Close != 100 {
		t.Fatalf("first row wrong: %+v", got[0])
	}
	if got[1].MarketCap != nil {
		t.Fatal("absent optional field must stay nil")
	}
}
