// Package store persists run results to PostgreSQL through gorm.
package store

import (
	"gorm.io/gorm"

	"backtest/internal/schema"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db        *gorm.DB
	batchSize int
}

// Open connects to PostgreSQL and migrates the result tables.
func Open(option Option) (*Store, error) {
	db, err := open(option)
	if err != nil {
		return nil, err
	}
	s := New(db, option.BatchSize)
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}

// DB returns the underlying gorm.DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Migrate creates or updates the result tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&RunRecord{}, &DecisionRecord{}, &FillRecord{}, &TradeRecord{}, &EquityRecord{})
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunSink buffers the records of one run in memory. Commit writes them and
// the run record in a single transaction.
type RunSink struct {
	store *Store
	runID string

	decisions []DecisionRecord
	fills     []FillRecord
	trades    []TradeRecord
	equity    []EquityRecord
}

// NewRunSink creates a sink for the run runID.
func (s *Store) NewRunSink(runID string) *RunSink {
	return &RunSink{store: s, runID: runID}
}

func (r *RunSink) OnDecision(d schema.Decision) error {
	r.decisions = append(r.decisions, decisionRecord(r.runID, len(r.decisions)+1, d))
	return nil
}

func (r *RunSink) OnOrder(schema.Order) error { return nil }

func (r *RunSink) OnFill(f schema.Fill) error {
	r.fills = append(r.fills, fillRecord(r.runID, len(r.fills)+1, f))
	return nil
}

func (r *RunSink) OnEquity(row schema.EquityRow) error {
	r.equity = append(r.equity, equityRecord(r.runID, len(r.equity)+1, row))
	return nil
}

func (r *RunSink) OnTrade(t schema.Trade) error {
	r.trades = append(r.trades, tradeRecord(r.runID, len(r.trades)+1, t))
	return nil
}

// Commit persists the run and every buffered record.
func (r *RunSink) Commit(run RunRecord) error {
	run.ID = r.runID
	size := r.store.batchSize
	return r.store.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&run).Error; err != nil {
			return err
		}
		if len(r.decisions) > 0 {
			if err := tx.CreateInBatches(r.decisions, size).Error; err != nil {
				return err
			}
		}
		if len(r.fills) > 0 {
			if err := tx.CreateInBatches(r.fills, size).Error; err != nil {
				return err
			}
		}
		if len(r.trades) > 0 {
			if err := tx.CreateInBatches(r.trades, size).Error; err != nil {
				return err
			}
		}
		if len(r.equity) > 0 {
			if err := tx.CreateInBatches(r.equity, size).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
