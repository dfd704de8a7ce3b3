package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/book"
	"depthwatch/internal/depth"
	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

// ViewUpdate is one refresh of the derived views for a symbol: the touch
// prices, the bucketed ladders, the defence-band ratios, and the last
// closed trade-flow step.
type ViewUpdate struct {
	Symbol       string              `json:"symbol"`
	BestBid      decimal.Decimal     `json:"best_bid"`
	BestAsk      decimal.Decimal     `json:"best_ask"`
	HasBid       bool                `json:"has_bid"`
	HasAsk       bool                `json:"has_ask"`
	DisplayPrice decimal.Decimal     `json:"display_price"`
	TouchMoved   bool                `json:"touch_moved"`
	BidLadder    []depth.LadderRow   `json:"bid_ladder"`
	AskLadder    []depth.LadderRow   `json:"ask_ladder"`
	Defence      []depth.DefenceBand `json:"defence"`
	Flow         depth.FlowStep      `json:"flow"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// HistoryStore persists derived samples. Nil disables persistence.
type HistoryStore interface {
	SaveDefenceSamples(samples []domain.DefenceSample) error
	SaveFlowSample(sample *domain.FlowSample) error
	PruneBefore(cutoff time.Time) error
}

// touchState tracks the previous touch prices for the display price rule:
// the shown price only moves when the ask touch rises or the bid touch
// falls, so resting-order churn inside the spread does not flicker it.
type touchState struct {
	prevBid decimal.Decimal
	prevAsk decimal.Decimal
	display decimal.Decimal
	seeded  bool
}

// ViewService periodically reduces each tracked replica into aggregation
// views and publishes them on a channel. It also closes trade-flow steps
// and records history samples when a store is attached.
type ViewService struct {
	registry *book.Registry
	cfg      *infra.Config
	store    HistoryStore
	logger   *slog.Logger

	mu      sync.Mutex
	touches map[string]*touchState
	flows   map[string]depth.FlowStep

	updates chan ViewUpdate
}

// NewViewService creates a view service. store may be nil.
func NewViewService(registry *book.Registry, cfg *infra.Config, store HistoryStore, logger *slog.Logger) *ViewService {
	return &ViewService{
		registry: registry,
		cfg:      cfg,
		store:    store,
		logger:   logger.With(slog.String("module", "view_service")),
		touches:  make(map[string]*touchState),
		flows:    make(map[string]depth.FlowStep),
		updates:  make(chan ViewUpdate, 256),
	}
}

// Updates returns the channel view refreshes are published on.
func (s *ViewService) Updates() <-chan ViewUpdate {
	return s.updates
}

// Start launches the refresh, flow and history loops. They stop when ctx
// is cancelled.
func (s *ViewService) Start(ctx context.Context) {
	go s.refreshLoop(ctx)
	go s.flowLoop(ctx)
	if s.store != nil && s.cfg.History.Enabled {
		go s.historyLoop(ctx)
	}
}

func (s *ViewService) refreshLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.View.RefreshIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range s.registry.Symbols() {
				update, ok := s.buildUpdate(symbol)
				if !ok {
					continue
				}
				select {
				case s.updates <- update:
				default:
					// Consumer is behind; the next refresh supersedes
					// this one anyway.
				}
			}
		}
	}
}

func (s *ViewService) flowLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.View.FlowStepSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range s.registry.Symbols() {
				ctrl, ok := s.registry.Controller(symbol)
				if !ok {
					continue
				}
				step := ctrl.Flow().Step(interval)

				s.mu.Lock()
				s.flows[symbol] = step
				s.mu.Unlock()

				if s.store != nil && s.cfg.History.Enabled {
					sample := &domain.FlowSample{
						Symbol:   symbol,
						BuySum:   step.BuySum,
						SellSum:  step.SellSum,
						AvgPrice: step.AvgPrice,
					}
					if err := s.store.SaveFlowSample(sample); err != nil {
						s.logger.Warn("failed to save flow sample", slog.String("symbol", symbol), slog.Any("error", err))
					}
				}
			}
		}
	}
}

func (s *ViewService) historyLoop(ctx context.Context) {
	sampleEvery := time.Duration(s.cfg.History.SampleIntervalSec) * time.Second
	sampleTicker := time.NewTicker(sampleEvery)
	defer sampleTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sampleTicker.C:
			s.sampleDefence()
		case <-pruneTicker.C:
			cutoff := time.Now().AddDate(0, 0, -s.cfg.History.RetentionDays)
			if err := s.store.PruneBefore(cutoff); err != nil {
				s.logger.Warn("failed to prune history", slog.Any("error", err))
			}
		}
	}
}

func (s *ViewService) sampleDefence() {
	for _, symbol := range s.registry.Symbols() {
		ctrl, ok := s.registry.Controller(symbol)
		if !ok {
			continue
		}
		snap, err := ctrl.Snapshot()
		if err != nil || !snap.HasBid || !snap.HasAsk {
			continue
		}
		bands := depth.DefenceBands(snap.Bids, snap.Asks, snap.BestBid, snap.BestAsk, s.cfg.View.DefenceBandsBps)

		samples := make([]domain.DefenceSample, 0, len(bands))
		for _, b := range bands {
			samples = append(samples, domain.DefenceSample{
				Symbol:     symbol,
				PercentBps: b.PercentBps,
				BidAmount:  b.BidAmount,
				AskAmount:  b.AskAmount,
				Ratio:      b.Ratio,
			})
		}
		if err := s.store.SaveDefenceSamples(samples); err != nil {
			s.logger.Warn("failed to save defence samples", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
}

// buildUpdate reduces the current replica state for symbol into a
// ViewUpdate. ok is false when the symbol has no synced data yet.
func (s *ViewService) buildUpdate(symbol string) (ViewUpdate, bool) {
	ctrl, ok := s.registry.Controller(symbol)
	if !ok {
		return ViewUpdate{}, false
	}

	snap, err := ctrl.Snapshot()
	if err != nil {
		if !errors.Is(err, domain.ErrNoData) {
			s.logger.Warn("snapshot failed", slog.String("symbol", symbol), slog.Any("error", err))
		}
		return ViewUpdate{}, false
	}

	view := s.cfg.View
	update := ViewUpdate{
		Symbol:    symbol,
		BestBid:   snap.BestBid,
		BestAsk:   snap.BestAsk,
		HasBid:    snap.HasBid,
		HasAsk:    snap.HasAsk,
		BidLadder: depth.BucketedTopN(snap.Bids, domain.SideBid, view.RoundingIncrement, view.DepthRows, view.MinAmount),
		AskLadder: depth.BucketedTopN(snap.Asks, domain.SideAsk, view.RoundingIncrement, view.DepthRows, view.MinAmount),
		UpdatedAt: time.Now(),
	}

	if snap.HasBid && snap.HasAsk {
		update.Defence = depth.DefenceBands(snap.Bids, snap.Asks, snap.BestBid, snap.BestAsk, view.DefenceBandsBps)
		update.DisplayPrice, update.TouchMoved = s.advanceTouch(symbol, snap.BestBid, snap.BestAsk)
	}

	s.mu.Lock()
	update.Flow = s.flows[symbol]
	s.mu.Unlock()

	return update, true
}

// advanceTouch applies the display price rule: the price moves to the ask
// touch when the ask rises, to the bid touch when the bid falls, and
// otherwise holds its last value.
func (s *ViewService) advanceTouch(symbol string, bestBid, bestAsk decimal.Decimal) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.touches[symbol]
	if !ok {
		st = &touchState{}
		s.touches[symbol] = st
	}

	moved := false
	if !st.seeded {
		st.display = bestAsk
		st.seeded = true
		moved = true
	} else {
		if bestAsk.GreaterThan(st.prevAsk) {
			st.display = bestAsk
			moved = true
		} else if bestBid.LessThan(st.prevBid) {
			st.display = bestBid
			moved = true
		}
	}

	st.prevBid = bestBid
	st.prevAsk = bestAsk
	return st.display, moved
}
