package app

import (
	"log/slog"

	"depthwatch/internal/infra"
	"depthwatch/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Depthwatch...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize history storage when enabled
	if cfg.History.Enabled {
		store, err := storage.NewStorage("data/depthwatch.db")
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ History database initialized")
	}

	return nil
}

// Close releases the resources Initialize opened.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("failed to close storage", slog.Any("error", err))
		}
	}
}
