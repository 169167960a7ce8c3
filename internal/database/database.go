// Package database persists signal outcomes, trade lifecycle events
// and per-position checkpoints in a local SQLite file.
package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the SQLite handle. Writes serialise behind one mutex;
// reads go straight to the pool.
type Store struct {
	mu  sync.Mutex
	db  *gorm.DB
	log zerolog.Logger
}

// Open creates the parent directory if needed, opens the database and
// runs migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&SignalEvent{}, &LiveTrade{}, &PositionState{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	s := &Store{
		db:  db,
		log: logger.With().Str("component", "database").Logger(),
	}
	s.log.Info().Str("path", path).Msg("database ready")
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSignalEvent appends one scanner emission with its verdict.
func (s *Store) RecordSignalEvent(ev *SignalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(ev).Error; err != nil {
		return fmt.Errorf("recording signal event for %s: %w", ev.Symbol, err)
	}
	return nil
}

// RecordTrade appends one position lifecycle event.
func (s *Store) RecordTrade(tr *LiveTrade) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(tr).Error; err != nil {
		return fmt.Errorf("recording %s trade event for %s: %w", tr.Event, tr.Symbol, err)
	}
	return nil
}

// SavePositionState upserts the checkpoint row for a symbol.
func (s *Store) SavePositionState(st *PositionState) error {
	st.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(st).Error
	if err != nil {
		return fmt.Errorf("saving position state for %s: %w", st.Symbol, err)
	}
	return nil
}

// GetPositionState returns the checkpoint for a symbol, or nil when no
// row exists.
func (s *Store) GetPositionState(symbol string) (*PositionState, error) {
	var st PositionState
	err := s.db.First(&st, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading position state for %s: %w", symbol, err)
	}
	return &st, nil
}

// DeletePositionState removes the checkpoint row for a symbol. Deleting
// an absent row is not an error.
func (s *Store) DeletePositionState(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(&PositionState{}, "symbol = ?", symbol).Error; err != nil {
		return fmt.Errorf("deleting position state for %s: %w", symbol, err)
	}
	return nil
}

// TradesSince lists lifecycle events recorded at or after t, oldest
// first.
func (s *Store) TradesSince(t time.Time) ([]LiveTrade, error) {
	var trades []LiveTrade
	err := s.db.Where("created_at >= ?", t).Order("created_at asc").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	return trades, nil
}

// SignalEventsSince lists signal events recorded at or after t, oldest
// first.
func (s *Store) SignalEventsSince(t time.Time) ([]SignalEvent, error) {
	var events []SignalEvent
	err := s.db.Where("created_at >= ?", t).Order("created_at asc").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing signal events: %w", err)
	}
	return events, nil
}
