package book

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"depthwatch/internal/depth"
	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

// SnapshotFetcher fetches a full depth snapshot for one symbol. The fetch
// runs concurrently with diff ingestion; implementations must honor ctx
// cancellation.
type SnapshotFetcher interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error)
}

// ControllerConfig carries the per-symbol replication tunables.
type ControllerConfig struct {
	// DepthLimit is the number of levels requested per snapshot.
	DepthLimit int
	// ResyncInterval is the forced-resnapshot cadence. Resync runs even
	// while Live.
	ResyncInterval time.Duration
	// InboxSize is the controller's event channel capacity.
	InboxSize int
}

// DefaultControllerConfig mirrors the cadences of the source dashboards:
// a deep snapshot every 20s.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		DepthLimit:     1000,
		ResyncInterval: 20 * time.Second,
		InboxSize:      1024,
	}
}

// Inbox message kinds. Everything that touches replica state funnels
// through the inbox so application stays serialized on one goroutine.
type diffMsg struct{ diff *domain.DiffEvent }
type tradeMsg struct{ trade *domain.TradeEvent }
type snapshotMsg struct {
	gen  uint64
	snap *domain.SnapshotEvent
	err  error
}

// SyncController drives one symbol's replication state machine:
//
//	Unsynced -> SnapshotPending -> Buffering -> Live
//	                 ^                            |
//	                 +---------- Stale <----------+  (gap detected)
//
// Diffs arriving while a snapshot fetch is outstanding are buffered, never
// discarded, and reconciled against the snapshot in ascending
// firstUpdateID order. The controller runs as a single goroutine reading a
// private inbox; the snapshot fetch is the only concurrent operation.
type SyncController struct {
	symbol  string
	cfg     ControllerConfig
	fetcher SnapshotFetcher
	replica *Replica
	flow    *depth.FlowAccumulator
	logger  *slog.Logger
	metrics *infra.Metrics

	inbox chan any

	// Owned by the Run goroutine.
	state       domain.SyncState
	buffer      []*domain.DiffEvent
	fetchGen    uint64
	fetchBusy   bool
	cancelFetch context.CancelFunc
	// applyLive is set when a forced resync interrupts a Live book: diffs
	// keep applying to the current replica while also being buffered for
	// reconciliation against the incoming snapshot.
	applyLive bool

	mu     sync.RWMutex // external reads: state, synced
	synced bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncController creates a controller for symbol. Call Start to begin
// replication.
func NewSyncController(symbol string, fetcher SnapshotFetcher, cfg ControllerConfig, logger *slog.Logger, metrics *infra.Metrics) *SyncController {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &SyncController{
		symbol:  symbol,
		cfg:     cfg,
		fetcher: fetcher,
		replica: NewReplica(symbol),
		flow:    depth.NewFlowAccumulator(),
		logger:  logger.With(slog.String("symbol", symbol)),
		metrics: metrics,
		inbox:   make(chan any, cfg.InboxSize),
		state:   domain.SyncUnsynced,
		done:    make(chan struct{}),
	}
}

// Start launches the controller goroutine and issues the initial snapshot
// fetch.
func (c *SyncController) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop cancels the controller and waits for its goroutine to exit. The
// replica is discarded with it.
func (c *SyncController) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// OfferDiff hands a diff to the controller without blocking the caller. A
// full inbox drops the diff; the update-ID gate will surface the loss as a
// gap and resync.
func (c *SyncController) OfferDiff(d *domain.DiffEvent) {
	select {
	case c.inbox <- diffMsg{diff: d}:
	default:
		c.logger.Warn("inbox full, dropping diff",
			slog.Uint64("first_update_id", d.FirstUpdateID),
			slog.Uint64("final_update_id", d.FinalUpdateID))
	}
}

// OfferTrade hands a trade print to the controller without blocking.
func (c *SyncController) OfferTrade(t *domain.TradeEvent) {
	select {
	case c.inbox <- tradeMsg{trade: t}:
	default:
		c.logger.Warn("inbox full, dropping trade", slog.Int64("trade_id", t.TradeID))
	}
}

// State returns the current sync state (external read).
func (c *SyncController) State() domain.SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Flow returns the symbol's trade-flow accumulator.
func (c *SyncController) Flow() *depth.FlowAccumulator {
	return c.flow
}

// Snapshot returns a copy of current book state, or ErrNoData before the
// first successful snapshot.
func (c *SyncController) Snapshot() (BookSnapshot, error) {
	c.mu.RLock()
	synced := c.synced
	c.mu.RUnlock()
	if !synced {
		return BookSnapshot{}, domain.ErrNoData
	}
	return c.replica.Snapshot(), nil
}

func (c *SyncController) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()

	c.triggerSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			if c.cancelFetch != nil {
				c.cancelFetch()
			}
			c.setState(domain.SyncUnsynced)
			return
		case <-ticker.C:
			c.metrics.RecordResync()
			c.triggerSnapshot(ctx)
		case m := <-c.inbox:
			switch msg := m.(type) {
			case diffMsg:
				c.handleDiff(ctx, msg.diff)
			case tradeMsg:
				c.metrics.RecordTrade()
				c.flow.AddTrade(*msg.trade)
			case snapshotMsg:
				c.handleSnapshotResult(ctx, msg)
			}
		}
	}
}

func (c *SyncController) handleDiff(ctx context.Context, d *domain.DiffEvent) {
	switch c.state {
	case domain.SyncLive:
		switch c.replica.ApplyDiff(d) {
		case ApplyOK:
			c.metrics.RecordDiffApplied()
		case ApplyStale:
			c.metrics.RecordStaleDiff()
		case ApplyGap:
			c.metrics.RecordGapDetected()
			c.logger.Warn("update gap detected, resyncing",
				slog.Uint64("replica_last", c.replica.LastUpdateID()),
				slog.Uint64("diff_first", d.FirstUpdateID))
			c.buffer = append(c.buffer, d)
			c.setState(domain.SyncStale)
			c.triggerSnapshot(ctx)
		}

	case domain.SyncSnapshotPending, domain.SyncStale:
		c.buffer = append(c.buffer, d)
		if c.applyLive {
			// Forced resync from Live: the current replica stays usable
			// until the new snapshot lands.
			if c.replica.ApplyDiff(d) == ApplyGap {
				c.metrics.RecordGapDetected()
				c.applyLive = false
			}
		}

	case domain.SyncUnsynced:
		// First diff for the symbol kicks off the initial sync.
		c.buffer = append(c.buffer, d)
		c.triggerSnapshot(ctx)
	}
}

// triggerSnapshot issues an asynchronous fetch and enters SnapshotPending.
// At most one fetch is outstanding; a trigger while one is in flight is
// coalesced, not queued twice.
func (c *SyncController) triggerSnapshot(ctx context.Context) {
	if c.fetchBusy {
		return
	}
	c.fetchBusy = true
	c.fetchGen++
	gen := c.fetchGen

	if c.state == domain.SyncLive {
		c.applyLive = true
	}
	c.setState(domain.SyncSnapshotPending)
	c.metrics.RecordSnapshotFetch()

	fctx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel

	go func() {
		snap, err := c.fetcher.FetchDepth(fctx, c.symbol, c.cfg.DepthLimit)
		select {
		case c.inbox <- snapshotMsg{gen: gen, snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *SyncController) handleSnapshotResult(ctx context.Context, m snapshotMsg) {
	if m.gen != c.fetchGen {
		// Superseded by a newer trigger; discard.
		return
	}
	c.fetchBusy = false
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}

	if m.err != nil {
		c.metrics.RecordSnapshotError()
		c.logger.Warn("snapshot fetch failed, will retry on next trigger",
			slog.Any("error", m.err),
			slog.Bool("retriable", domain.IsRetriable(m.err)))
		// Remain SnapshotPending and keep buffering; the resync ticker is
		// the retry schedule.
		return
	}

	c.setState(domain.SyncBuffering)
	c.replica.ApplySnapshot(m.snap)
	c.applyLive = false

	c.mu.Lock()
	c.synced = true
	c.mu.Unlock()

	c.logger.Info("snapshot applied",
		slog.Uint64("last_update_id", m.snap.LastUpdateID),
		slog.Int("bids", len(m.snap.Bids)),
		slog.Int("asks", len(m.snap.Asks)),
		slog.Int("buffered", len(c.buffer)))

	c.reconcileBuffer(ctx)
}

// reconcileBuffer replays buffered diffs against a freshly applied
// snapshot: ascending firstUpdateID order, diffs already covered by the
// snapshot discarded, the remainder gated as usual. A gap inside the
// buffer means the missing updates can never arrive; the unapplied tail is
// kept and a fresh snapshot is fetched.
func (c *SyncController) reconcileBuffer(ctx context.Context) {
	slices.SortFunc(c.buffer, func(a, b *domain.DiffEvent) int {
		switch {
		case a.FirstUpdateID < b.FirstUpdateID:
			return -1
		case a.FirstUpdateID > b.FirstUpdateID:
			return 1
		default:
			return 0
		}
	})

	for i, d := range c.buffer {
		switch c.replica.ApplyDiff(d) {
		case ApplyOK:
			c.metrics.RecordDiffApplied()
		case ApplyStale:
			// Already reflected in the snapshot.
		case ApplyGap:
			c.metrics.RecordGapDetected()
			c.logger.Warn("gap inside buffered diffs, fetching fresh snapshot",
				slog.Uint64("replica_last", c.replica.LastUpdateID()),
				slog.Uint64("diff_first", d.FirstUpdateID))
			c.buffer = c.buffer[i:]
			c.setState(domain.SyncStale)
			c.triggerSnapshot(ctx)
			return
		}
	}

	c.buffer = c.buffer[:0]
	c.setState(domain.SyncLive)
}

func (c *SyncController) setState(s domain.SyncState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("sync state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.String()))
	}
}
