package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"market_cache/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Catalog persists every instrument a feed has observed
type Catalog struct {
	db *gorm.DB
}

var _ domain.InstrumentRepository = (*Catalog)(nil)

// NewCatalog opens (or creates) the SQLite catalog at path. An empty path
// resolves to the per-user data directory.
func NewCatalog(path string) (*Catalog, error) {
	if path == "" {
		var err error
		path, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.Instrument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Catalog{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "MarketCache", "data", "catalog.db"), nil
}

// UpsertInstruments inserts new instruments and refreshes known ones.
// first_seen_at of an existing row is never overwritten.
func (c *Catalog) UpsertInstruments(instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	return c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair"}, {Name: "exchange"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "quote", "source", "last_price", "last_seen_at", "updated_at"}),
	}).Create(&instruments).Error
}

// SyncTickers records every ticker of a store snapshot and returns how many were written.
func (c *Catalog) SyncTickers(tickers map[string]domain.Ticker) (int, error) {
	instruments := make([]domain.Instrument, 0, len(tickers))
	for _, t := range tickers {
		if t.Pair == "" || t.Exchange == "" {
			continue
		}
		instruments = append(instruments, domain.InstrumentFromTicker(t))
	}
	if err := c.UpsertInstruments(instruments); err != nil {
		return 0, err
	}
	return len(instruments), nil
}

// GetInstrument retrieves one instrument by exchange and pair
func (c *Catalog) GetInstrument(exchange, pair string) (*domain.Instrument, error) {
	var inst domain.Instrument
	err := c.db.First(&inst, "exchange = ? AND pair = ?", exchange, pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstruments retrieves all instruments ordered by symbol
func (c *Catalog) ListInstruments() ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	err := c.db.Order("symbol, exchange, pair").Find(&instruments).Error
	return instruments, err
}

// ListBySymbol returns every venue pair that maps to a canonical symbol
func (c *Catalog) ListBySymbol(symbol string) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	err := c.db.Where("symbol = ?", domain.NormalizeSymbol(symbol)).Order("exchange, pair").Find(&instruments).Error
	return instruments, err
}

// Count returns the number of known instruments
func (c *Catalog) Count() (int64, error) {
	var n int64
	err := c.db.Model(&domain.Instrument{}).Count(&n).Error
	return n, err
}

// DeleteInstrument deletes an instrument from the database
func (c *Catalog) DeleteInstrument(exchange, pair string) error {
	return c.db.Where("exchange = ? AND pair = ?", exchange, pair).Delete(&domain.Instrument{}).Error
}

// Close releases the underlying connection
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
