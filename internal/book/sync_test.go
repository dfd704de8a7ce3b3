package book

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

type fetchFunc func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error)

func (f fetchFunc) FetchDepth(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
	return f(ctx, symbol, limit)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		DepthLimit:     1000,
		ResyncInterval: time.Minute, // effectively off unless a test wants it
		InboxSize:      64,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSyncController_BufferedDiffsReconcile(t *testing.T) {
	gate := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &domain.SnapshotEvent{
			Symbol:       "BTCUSDT",
			LastUpdateID: 500,
			Bids: []domain.PriceLevel{
				{Price: d("100"), Quantity: d("2")},
				{Price: d("99"), Quantity: d("5")},
			},
			Asks: []domain.PriceLevel{
				{Price: d("101"), Quantity: d("3")},
				{Price: d("102"), Quantity: d("1")},
			},
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := NewSyncController("BTCUSDT", fetcher, testControllerConfig(), testLogger(), &infra.Metrics{})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	// Diffs arriving while the snapshot fetch is outstanding are buffered.
	// Delivered deliberately out of order.
	ctrl.OfferDiff(diffAt(521, 530, nil, []domain.PriceLevel{{Price: d("101"), Quantity: decimal.Zero}}))
	ctrl.OfferDiff(diffAt(450, 480, []domain.PriceLevel{{Price: d("95"), Quantity: d("9")}}, nil))
	ctrl.OfferDiff(diffAt(490, 520, []domain.PriceLevel{{Price: d("100"), Quantity: d("7")}}, nil))

	close(gate)

	waitFor(t, 2*time.Second, func() bool { return ctrl.State() == domain.SyncLive })

	snap, err := ctrl.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.LastUpdateID != 530 {
		t.Errorf("Expected lastUpdateID 530 after reconciliation, got %d", snap.LastUpdateID)
	}
	// The fully stale diff (450..480) must not have left a trace.
	for _, lvl := range snap.Bids {
		if lvl.Price.Equal(d("95")) {
			t.Error("Stale buffered diff leaked into the book")
		}
	}
	if !snap.Bids[0].Quantity.Equal(d("7")) {
		t.Errorf("Expected bid 100 updated to 7, got %s", snap.Bids[0].Quantity)
	}
	if !snap.BestAsk.Equal(d("102")) {
		t.Errorf("Expected ask 101 removed, best ask now %s", snap.BestAsk)
	}
}

func TestSyncController_GapTriggersResync(t *testing.T) {
	var calls atomic.Int64
	fetcher := fetchFunc(func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
		n := calls.Add(1)
		if n == 1 {
			return snapshotAt(100), nil
		}
		return snapshotAt(200), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := NewSyncController("BTCUSDT", fetcher, testControllerConfig(), testLogger(), &infra.Metrics{})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	waitFor(t, 2*time.Second, func() bool { return ctrl.State() == domain.SyncLive })

	// Contiguous diff applies.
	ctrl.OfferDiff(diffAt(101, 101, []domain.PriceLevel{{Price: d("100"), Quantity: d("4")}}, nil))
	waitFor(t, 2*time.Second, func() bool {
		snap, err := ctrl.Snapshot()
		return err == nil && snap.LastUpdateID == 101
	})

	// A diff far beyond the replica clock forces a resync; the fresh
	// snapshot at 200 covers it, so the book returns to Live.
	ctrl.OfferDiff(diffAt(150, 160, []domain.PriceLevel{{Price: d("98"), Quantity: d("1")}}, nil))

	waitFor(t, 2*time.Second, func() bool {
		snap, err := ctrl.Snapshot()
		return err == nil && snap.LastUpdateID == 200 && ctrl.State() == domain.SyncLive
	})

	if got := calls.Load(); got != 2 {
		t.Errorf("Expected exactly 2 snapshot fetches, got %d", got)
	}
}

func TestSyncController_NoDataBeforeFirstSnapshot(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := NewSyncController("BTCUSDT", fetcher, testControllerConfig(), testLogger(), &infra.Metrics{})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	if _, err := ctrl.Snapshot(); !errors.Is(err, domain.ErrNoData) {
		t.Errorf("Expected ErrNoData before first snapshot, got %v", err)
	}
}

func TestSyncController_FetchErrorRetriesOnResyncTick(t *testing.T) {
	var calls atomic.Int64
	fetcher := fetchFunc(func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
		if calls.Add(1) == 1 {
			return nil, domain.NewNetworkError("depth request", errors.New("boom"))
		}
		return snapshotAt(300), nil
	})

	cfg := testControllerConfig()
	cfg.ResyncInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := NewSyncController("BTCUSDT", fetcher, cfg, testLogger(), &infra.Metrics{})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	waitFor(t, 2*time.Second, func() bool { return ctrl.State() == domain.SyncLive })

	snap, err := ctrl.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.LastUpdateID != 300 {
		t.Errorf("Expected lastUpdateID 300 after retry, got %d", snap.LastUpdateID)
	}
	if calls.Load() < 2 {
		t.Errorf("Expected a retry fetch, got %d calls", calls.Load())
	}
}

func TestSyncController_TradesFeedFlow(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
		return snapshotAt(100), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := &infra.Metrics{}
	ctrl := NewSyncController("BTCUSDT", fetcher, testControllerConfig(), testLogger(), metrics)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	waitFor(t, 2*time.Second, func() bool { return ctrl.State() == domain.SyncLive })

	ctrl.OfferTrade(&domain.TradeEvent{
		Symbol: "BTCUSDT", TradeID: 1,
		Price: d("100"), Quantity: d("2"), BuyerIsMaker: false,
	})
	ctrl.OfferTrade(&domain.TradeEvent{
		Symbol: "BTCUSDT", TradeID: 2,
		Price: d("100"), Quantity: d("1"), BuyerIsMaker: true,
	})

	waitFor(t, 2*time.Second, func() bool { return metrics.Snapshot().TradesSeen == 2 })

	step := ctrl.Flow().Step(time.Second)
	if !step.BuySum.Equal(d("200")) {
		t.Errorf("Expected buy sum 200, got %s", step.BuySum)
	}
	if !step.SellSum.Equal(d("100")) {
		t.Errorf("Expected sell sum 100, got %s", step.SellSum)
	}
}
