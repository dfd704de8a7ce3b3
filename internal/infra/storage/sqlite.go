package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"depthwatch/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists derived history samples. Book state itself is never
// written; only the defence ratios and trade flow steps the views compute.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite driver, no cgo
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorageWithDB(db)
}

// newStorageWithDB wraps an already opened gorm DB. Tests use this with an
// in-memory database.
func newStorageWithDB(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&domain.DefenceSample{}, &domain.FlowSample{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// SaveDefenceSamples persists one refresh worth of band ratios for a symbol.
func (s *Storage) SaveDefenceSamples(samples []domain.DefenceSample) error {
	if len(samples) == 0 {
		return nil
	}
	return s.db.Create(&samples).Error
}

// SaveFlowSample persists a completed trade flow step.
func (s *Storage) SaveFlowSample(sample *domain.FlowSample) error {
	return s.db.Create(sample).Error
}

// RecentDefenceSamples returns samples for symbol created at or after since,
// oldest first.
func (s *Storage) RecentDefenceSamples(symbol string, since time.Time) ([]domain.DefenceSample, error) {
	var samples []domain.DefenceSample
	err := s.db.
		Where("symbol = ? AND created_at >= ?", symbol, since).
		Order("created_at ASC").
		Find(&samples).Error
	return samples, err
}

// RecentFlowSamples returns flow steps for symbol created at or after since,
// oldest first.
func (s *Storage) RecentFlowSamples(symbol string, since time.Time) ([]domain.FlowSample, error) {
	var samples []domain.FlowSample
	err := s.db.
		Where("symbol = ? AND created_at >= ?", symbol, since).
		Order("created_at ASC").
		Find(&samples).Error
	return samples, err
}

// PruneBefore deletes all samples older than cutoff.
func (s *Storage) PruneBefore(cutoff time.Time) error {
	if err := s.db.Where("created_at < ?", cutoff).Delete(&domain.DefenceSample{}).Error; err != nil {
		return err
	}
	return s.db.Where("created_at < ?", cutoff).Delete(&domain.FlowSample{}).Error
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
