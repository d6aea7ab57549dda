// Package gormstore is a rosca.PoolStore on top of GORM, used with
// PostgreSQL in production.
//
// Each pool is one row: indexed columns for listing and status queries, plus
// the full pool as a JSON document. Update locks the row with
// SELECT ... FOR UPDATE and also guards the write with the version column, so
// a writer that skipped the lock still cannot overwrite newer data.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/rosca-engine/rosca"
)

// poolRecord is the table row.
type poolRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Name      string    `gorm:"type:varchar(255)"`
	CreatedBy string    `gorm:"type:varchar(128);index"`
	Status    string    `gorm:"type:varchar(32);index"`
	Document  string    `gorm:"type:text"` // rosca.Pool as JSON
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (poolRecord) TableName() string { return "rosca_pools" }

type Store struct {
	db *gorm.DB
}

// OpenPostgres connects with connection pooling and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	slog.Info("database connection established", "driver", "postgres")
	return New(db)
}

// New wraps an open GORM handle. Any dialector works; tests use SQLite.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&poolRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, pool *rosca.Pool) error {
	rec, err := toRecord(pool, 1)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("failed to insert pool: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return rosca.ErrPoolExists
	}
	pool.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id rosca.PoolID) (*rosca.Pool, error) {
	var rec poolRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rosca.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	return fromRecord(rec)
}

func (s *Store) List(ctx context.Context) ([]*rosca.Pool, error) {
	var recs []poolRecord
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	pools := make([]*rosca.Pool, 0, len(recs))
	for _, rec := range recs {
		pool, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (s *Store) Update(ctx context.Context, id rosca.PoolID, fn func(*rosca.Pool) error) (*rosca.Pool, error) {
	var out *rosca.Pool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec poolRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", string(id)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rosca.ErrPoolNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock pool: %w", err)
		}

		pool, err := fromRecord(rec)
		if err != nil {
			return err
		}
		if err := fn(pool); err != nil {
			return err
		}
		pool.ID = id

		next, err := toRecord(pool, rec.Version+1)
		if err != nil {
			return err
		}
		res := tx.Model(&poolRecord{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]any{
				"name":       next.Name,
				"created_by": next.CreatedBy,
				"status":     next.Status,
				"document":   next.Document,
				"version":    next.Version,
				"updated_at": next.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update pool: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return rosca.ErrConcurrentModification
		}

		pool.Version = next.Version
		out = pool
		return nil
	})
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %v", rosca.ErrConcurrentModification, err)
		}
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id rosca.PoolID) error {
	res := s.db.WithContext(ctx).Delete(&poolRecord{}, "id = ?", string(id))
	if res.Error != nil {
		return fmt.Errorf("failed to delete pool: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return rosca.ErrPoolNotFound
	}
	return nil
}

// =============================================================================
// MAPPING
// =============================================================================

func toRecord(pool *rosca.Pool, version int64) (poolRecord, error) {
	doc, err := json.Marshal(pool)
	if err != nil {
		return poolRecord{}, fmt.Errorf("failed to encode pool %s: %w", pool.ID, err)
	}
	return poolRecord{
		ID:        string(pool.ID),
		Name:      pool.Name,
		CreatedBy: string(pool.CreatedBy),
		Status:    string(pool.Status),
		Document:  string(doc),
		Version:   version,
		CreatedAt: pool.CreatedAt,
		UpdatedAt: pool.UpdatedAt,
	}, nil
}

func fromRecord(rec poolRecord) (*rosca.Pool, error) {
	var pool rosca.Pool
	if err := json.Unmarshal([]byte(rec.Document), &pool); err != nil {
		return nil, fmt.Errorf("failed to decode pool %s: %w", rec.ID, err)
	}
	pool.Version = rec.Version
	return &pool, nil
}

// isLockError matches serialization and lock failures from Postgres and SQLite.
func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "database is locked")
}
