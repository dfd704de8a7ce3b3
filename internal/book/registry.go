package book

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

// Registry owns one SyncController (and therefore one replica) per tracked
// symbol and routes inbound feed events to the right one. It is the only
// component that knows the full set of tracked symbols, and its symbol map
// is the only cross-symbol shared state.
type Registry struct {
	fetcher SnapshotFetcher
	cfg     ControllerConfig
	logger  *slog.Logger
	metrics *infra.Metrics

	mu          sync.RWMutex
	controllers map[string]*SyncController
}

// NewRegistry creates an empty registry. fetcher is shared by every
// controller the registry spawns.
func NewRegistry(fetcher SnapshotFetcher, cfg ControllerConfig, logger *slog.Logger, metrics *infra.Metrics) *Registry {
	return &Registry{
		fetcher:     fetcher,
		cfg:         cfg,
		logger:      logger.With(slog.String("module", "registry")),
		metrics:     metrics,
		controllers: make(map[string]*SyncController),
	}
}

// Track starts replication for symbol. Idempotent: tracking a symbol twice
// returns ErrAlreadyTracked and changes nothing.
func (r *Registry) Track(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.ErrInvalidSymbol
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.controllers[symbol]; ok {
		r.logger.Debug("symbol already tracked", slog.String("symbol", symbol))
		return domain.ErrAlreadyTracked
	}

	ctrl := NewSyncController(symbol, r.fetcher, r.cfg, r.logger, r.metrics)
	ctrl.Start(ctx)
	r.controllers[symbol] = ctrl
	r.metrics.SetTrackedSymbols(int32(len(r.controllers)))

	r.logger.Info("tracking symbol", slog.String("symbol", symbol))
	return nil
}

// Untrack stops replication for symbol and discards its replica.
func (r *Registry) Untrack(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.Lock()
	ctrl, ok := r.controllers[symbol]
	if ok {
		delete(r.controllers, symbol)
		r.metrics.SetTrackedSymbols(int32(len(r.controllers)))
	}
	r.mu.Unlock()

	if !ok {
		return domain.ErrUnknownSymbol
	}

	ctrl.Stop()
	r.logger.Info("untracked symbol", slog.String("symbol", symbol))
	return nil
}

// RouteDiff dispatches a diff to its symbol's controller. Events for
// untracked symbols are dropped with a diagnostic; under a subscription
// race that is expected, not an error.
func (r *Registry) RouteDiff(d *domain.DiffEvent) {
	if ctrl, ok := r.lookup(d.Symbol); ok {
		ctrl.OfferDiff(d)
		return
	}
	r.metrics.RecordUnknownSymbol()
	r.logger.Debug("diff for untracked symbol dropped", slog.String("symbol", d.Symbol))
}

// RouteTrade dispatches a trade print to its symbol's controller.
func (r *Registry) RouteTrade(t *domain.TradeEvent) {
	if ctrl, ok := r.lookup(t.Symbol); ok {
		ctrl.OfferTrade(t)
		return
	}
	r.metrics.RecordUnknownSymbol()
	r.logger.Debug("trade for untracked symbol dropped", slog.String("symbol", t.Symbol))
}

// Controller returns the controller for symbol, if tracked.
func (r *Registry) Controller(symbol string) (*SyncController, bool) {
	return r.lookup(symbol)
}

// Symbols returns the tracked symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.controllers))
	for sym := range r.controllers {
		out = append(out, sym)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Close stops every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	controllers := make([]*SyncController, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		controllers = append(controllers, ctrl)
	}
	r.controllers = make(map[string]*SyncController)
	r.metrics.SetTrackedSymbols(0)
	r.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Stop()
	}
}

func (r *Registry) lookup(symbol string) (*SyncController, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.controllers[strings.ToUpper(symbol)]
	return ctrl, ok
}
