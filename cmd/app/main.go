package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"depthwatch/internal/app"
	"depthwatch/internal/book"
	"depthwatch/internal/infra"
	"depthwatch/internal/infra/binance"
	"depthwatch/internal/service"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	logger := slog.Default()
	metrics := infra.GlobalMetrics

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Book replication: REST snapshots + per-symbol sync controllers
	restClient := binance.NewClient(cfg, logger, metrics)
	ctrlCfg := book.ControllerConfig{
		DepthLimit:     cfg.API.Binance.DepthLimit,
		ResyncInterval: time.Duration(cfg.Book.ResyncIntervalSec) * time.Second,
		InboxSize:      cfg.Book.InboxSize,
	}
	registry := book.NewRegistry(restClient, ctrlCfg, logger, metrics)
	defer registry.Close()

	// 5. Stream worker feeding the registry
	streamWorker := binance.NewStreamWorker(cfg, registry, logger, metrics)
	if err := streamWorker.Connect(ctx); err != nil {
		slog.Error("❌ Failed to start stream worker", slog.Any("error", err))
		os.Exit(1)
	}
	defer streamWorker.Disconnect()

	for _, symbol := range cfg.API.Binance.Symbols {
		if err := registry.Track(ctx, symbol); err != nil {
			slog.Error("Failed to track symbol", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		if err := streamWorker.Subscribe(symbol); err != nil {
			slog.Error("Failed to subscribe symbol", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	metrics.SetTrackedSymbols(int32(len(registry.Symbols())))
	slog.InfoContext(ctx, "✅ Book replication started", slog.Int("symbols", len(registry.Symbols())))

	// 6. View service reducing replicas into ladders and defence bands
	var store service.HistoryStore
	if bootstrap.Storage != nil {
		store = bootstrap.Storage
	}
	viewService := service.NewViewService(registry, cfg, store, logger)
	viewService.Start(ctx)

	go consumeUpdates(ctx, viewService)

	slog.InfoContext(ctx, "✨ Depthwatch fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}

// consumeUpdates drains the view channel and logs a compact summary per
// refresh. A real frontend would subscribe here instead.
func consumeUpdates(ctx context.Context, vs *service.ViewService) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-vs.Updates():
			if !update.HasBid || !update.HasAsk {
				continue
			}
			slog.Debug("view refresh",
				slog.String("symbol", update.Symbol),
				slog.String("bid", update.BestBid.String()),
				slog.String("ask", update.BestAsk.String()),
				slog.String("price", update.DisplayPrice.String()),
				slog.Bool("touch_moved", update.TouchMoved),
				slog.Int("bid_rows", len(update.BidLadder)),
				slog.Int("ask_rows", len(update.AskLadder)),
				slog.Int("bands", len(update.Defence)))
		}
	}
}
