package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/observability"
)

// fakeRemote is an in-memory RemoteTier with togglable failure modes.
type fakeRemote struct {
	data     map[string][]byte
	getCalls int
	putCalls int
	failGet  bool
	failPut  bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, error) {
	f.getCalls++
	if f.failGet {
		return nil, errors.New("remote unreachable")
	}
	data, ok := f.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return data, nil
}

func (f *fakeRemote) Put(_ context.Context, key string, data []byte) error {
	f.putCalls++
	if f.failPut {
		return errors.New("remote unreachable")
	}
	f.data[key] = append([]byte(nil), data...)
	return nil
}

func newTestCache(t *testing.T, remote RemoteTier) *Cache {
	t.Helper()
	c, err := New(Options{
		Dir:    t.TempDir(),
		Remote: remote,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func sampleRows() []domain.DailyObservation {
	mcap := 1.2e9
	closePx := 42.5
	return []domain.DailyObservation{
		{
			Date:      time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			CoinID:    "chainlink",
			Ticker:    "LINK",
			Close:     &closePx,
			MarketCap: &mcap,
		},
		{
			Date:   time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC),
			CoinID: "chainlink",
			Ticker: "LINK",
		},
	}
}

func TestTableRoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	want := sampleRows()
	if err := c.SetTable(ctx, "coin_history/chainlink", want); err != nil {
		t.Fatalf("SetTable failed: %v", err)
	}

	got, ok, err := c.GetTable(ctx, "coin_history/chainlink")
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != len(want) {
		t.Fatalf("row count = %d, want %d", len(got), len(want))
	}
	if !got[0].Date.Equal(want[0].Date) || got[0].CoinID != "chainlink" {
		t.Errorf("first row mismatch: %+v", got[0])
	}
	if got[0].Close == nil || *got[0].Close != 42.5 {
		t.Errorf("Close not preserved: %+v", got[0].Close)
	}
	if got[0].MarketCap == nil || *got[0].MarketCap != 1.2e9 {
		t.Errorf("MarketCap not preserved: %+v", got[0].MarketCap)
	}
	if got[1].Close != nil {
		t.Errorf("nil Close should stay nil, got %v", *got[1].Close)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	want := map[string]string{"ethereum": "Ethereum", "solana": "Solana"}
	if err := c.SetJSON(ctx, "maps/llama_chain_map", want); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got map[string]string
	ok, err := c.GetJSON(ctx, "maps/llama_chain_map", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got["ethereum"] != "Ethereum" || got["solana"] != "Solana" {
		t.Fatalf("payload mismatch: %v", got)
	}
}

func TestGet_FullMissIsNotAnError(t *testing.T) {
	c := newTestCache(t, newFakeRemote())

	_, ok, err := c.GetTable(context.Background(), "coin_history/absent")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestGet_RemoteHitPromotesToLocal(t *testing.T) {
	remote := newFakeRemote()
	seed := newTestCache(t, remote)
	ctx := context.Background()

	// Seed the remote through a cache whose local tier we then abandon.
	if err := seed.SetTable(ctx, "coin_history/chainlink", sampleRows()); err != nil {
		t.Fatalf("seed SetTable failed: %v", err)
	}

	c := newTestCache(t, remote)
	_, ok, err := c.GetTable(ctx, "coin_history/chainlink")
	if err != nil || !ok {
		t.Fatalf("expected remote hit, ok=%v err=%v", ok, err)
	}
	remoteGets := remote.getCalls

	// Promotion means the second get never reaches the remote tier.
	_, ok, err = c.GetTable(ctx, "coin_history/chainlink")
	if err != nil || !ok {
		t.Fatalf("expected local hit after promotion, ok=%v err=%v", ok, err)
	}
	if remote.getCalls != remoteGets {
		t.Fatalf("remote consulted after promotion: %d calls", remote.getCalls)
	}
}

func TestSet_LocalDurableUnderRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failPut = true
	c := newTestCache(t, remote)
	ctx := context.Background()

	if err := c.SetTable(ctx, "coin_history/chainlink", sampleRows()); err != nil {
		t.Fatalf("set must succeed despite remote failure: %v", err)
	}

	got, ok, err := c.GetTable(ctx, "coin_history/chainlink")
	if err != nil || !ok {
		t.Fatalf("expected local hit, ok=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Fatalf("row count = %d, want 2", len(got))
	}
}

func TestGet_RemoteFailureDegradesToMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	c := newTestCache(t, remote)

	_, ok, err := c.GetTable(context.Background(), "coin_history/chainlink")
	if err != nil {
		t.Fatalf("remote failure should degrade to a miss: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestSet_ReplacesPriorPayload(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.SetTable(ctx, "coin_history/chainlink", sampleRows()); err != nil {
		t.Fatalf("first SetTable failed: %v", err)
	}
	replacement := sampleRows()[:1]
	if err := c.SetTable(ctx, "coin_history/chainlink", replacement); err != nil {
		t.Fatalf("second SetTable failed: %v", err)
	}

	got, ok, err := c.GetTable(ctx, "coin_history/chainlink")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if len(got) != 1 {
		t.Fatalf("replacement not applied, %d rows", len(got))
	}
}

func TestTierCountersTrackHitsMissesAndRemoteFailures(t *testing.T) {
	m := observability.NewMetrics("cache_tiers_test")
	remote := newFakeRemote()
	seed := newTestCache(t, remote)
	ctx := context.Background()

	if err := seed.SetTable(ctx, "coin_history/chainlink", sampleRows()); err != nil {
		t.Fatalf("seed SetTable failed: %v", err)
	}

	c, err := New(Options{
		Dir:     t.TempDir(),
		Remote:  remote,
		Logger:  log.New(io.Discard, "", 0),
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Remote hit, then local hit after promotion, then a full miss.
	if _, ok, err := c.GetTable(ctx, "coin_history/chainlink"); err != nil || !ok {
		t.Fatalf("expected remote hit, ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.GetTable(ctx, "coin_history/chainlink"); err != nil || !ok {
		t.Fatalf("expected local hit, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.GetTable(ctx, "coin_history/absent"); ok {
		t.Fatal("expected miss")
	}

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("remote")); got != 1 {
		t.Errorf("remote hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("local")); got != 1 {
		t.Errorf("local hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}

	// Backend failures on both paths are counted, not surfaced.
	remote.failGet = true
	if _, ok, err := c.GetTable(ctx, "coin_history/other"); err != nil || ok {
		t.Fatalf("remote failure should degrade to a miss, ok=%v err=%v", ok, err)
	}
	remote.failPut = true
	if err := c.SetTable(ctx, "coin_history/other", sampleRows()); err != nil {
		t.Fatalf("set must succeed despite remote failure: %v", err)
	}
	if got := testutil.ToFloat64(m.RemoteCacheErrors); got != 2 {
		t.Errorf("remote errors = %v, want 2", got)
	}
}

func TestKeysMapToNestedFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Options{Dir: dir, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.SetJSON(context.Background(), "maps/llama_protocol_map", map[string]string{}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "maps", "llama_protocol_map.json")); err != nil {
		t.Fatalf("expected nested cache file: %v", err)
	}
}

func TestEmptyTableRoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.SetTable(ctx, "coin_history/empty", nil); err != nil {
		t.Fatalf("SetTable failed: %v", err)
	}
	got, ok, err := c.GetTable(ctx, "coin_history/empty")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if len(got) != 0 {
		t.Fatalf("expected zero rows, got %d", len(got))
	}
}
