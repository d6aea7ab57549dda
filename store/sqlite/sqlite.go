/*
Package sqlite provides a SQLite-backed rosca.PoolStore.

PURPOSE:
  Persists pools in normalized tables with raw SQL. The same schema works on
  PostgreSQL with minor dialect changes; store/gormstore is the PostgreSQL
  path actually used in production.

KEY TABLES:
  pools:              One row per pool, including the version counter
  pool_participants:  Members in join order (position)
  pool_periods:       Materialized schedule, one row per period
  pool_contributions: At most one row per (pool, period, member)

ATOMIC UPDATE:
  Update reads the pool, runs fn and rewrites the pool's child rows inside a
  single transaction. The pools row is rewritten with
  "WHERE version = ?", so a writer from another process that committed in
  between makes us fail with ErrConcurrentModification instead of silently
  overwriting its work. Within one process writes are serialized by a mutex.

WAL MODE:
  Opened with WAL so readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./data/rosca.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - rosca/store.go: interface definition
  - rosca/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rosca-engine/rosca"
)

// Store implements rosca.PoolStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers in this process
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every new connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_by TEXT NOT NULL,
		status TEXT NOT NULL,
		contribution_amount TEXT NOT NULL,
		member_limit INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		rotation_mode TEXT NOT NULL,
		rotation_order_json TEXT,
		start_date TEXT NOT NULL,
		current_period INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_pools_created_at
		ON pools(created_at, id);
	CREATE INDEX IF NOT EXISTS idx_pools_status
		ON pools(status);

	CREATE TABLE IF NOT EXISTS pool_participants (
		pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (pool_id, position),
		UNIQUE (pool_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS pool_periods (
		pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
		period_index INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		payout_date TEXT NOT NULL,
		payout_to TEXT NOT NULL,
		payout_amount TEXT NOT NULL,
		payout_complete BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (pool_id, period_index)
	);

	-- Due-date scans for the reminder worker
	CREATE INDEX IF NOT EXISTS idx_pool_periods_due
		ON pool_periods(due_date) WHERE payout_complete = FALSE;

	CREATE TABLE IF NOT EXISTS pool_contributions (
		pool_id TEXT NOT NULL,
		period_index INTEGER NOT NULL,
		position INTEGER NOT NULL,
		member_id TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		PRIMARY KEY (pool_id, period_index, member_id),
		FOREIGN KEY (pool_id, period_index)
			REFERENCES pool_periods(pool_id, period_index) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// POOL STORE (rosca.PoolStore interface)
// =============================================================================

func (s *Store) Create(ctx context.Context, pool *rosca.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	orderJSON, err := marshalOrder(pool.Config.RotationOrder)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pools
		(id, name, created_by, status, contribution_amount, member_limit, frequency,
		 rotation_mode, rotation_order_json, start_date, current_period, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		pool.ID,
		pool.Name,
		pool.CreatedBy,
		pool.Status,
		pool.Config.ContributionAmount.String(),
		pool.Config.MemberLimit,
		pool.Config.Frequency,
		pool.Config.RotationMode,
		orderJSON,
		formatTime(pool.Config.StartDate),
		pool.Config.CurrentPeriod,
		formatTime(pool.CreatedAt),
		formatTime(pool.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return rosca.ErrPoolExists
		}
		return fmt.Errorf("failed to insert pool: %w", err)
	}

	if err := writeChildren(ctx, tx, pool); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool: %w", err)
	}
	pool.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id rosca.PoolID) (*rosca.Pool, error) {
	return loadPool(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context) ([]*rosca.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM pools ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	var ids []rosca.PoolID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, rosca.PoolID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pools := make([]*rosca.Pool, 0, len(ids))
	for _, id := range ids {
		pool, err := loadPool(ctx, s.db, id)
		if errors.Is(err, rosca.ErrPoolNotFound) {
			continue // deleted since the id scan
		}
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// Update runs fn inside one SQL transaction. fn sees a pool loaded in that
// transaction; if it fails the transaction is rolled back.
func (s *Store) Update(ctx context.Context, id rosca.PoolID, fn func(*rosca.Pool) error) (*rosca.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pool, err := loadPool(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	readVersion := pool.Version

	if err := fn(pool); err != nil {
		return nil, err
	}
	pool.ID = id
	pool.Version = readVersion + 1

	orderJSON, err := marshalOrder(pool.Config.RotationOrder)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE pools SET
			name = ?, created_by = ?, status = ?, contribution_amount = ?, member_limit = ?,
			frequency = ?, rotation_mode = ?, rotation_order_json = ?, start_date = ?,
			current_period = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`,
		pool.Name,
		pool.CreatedBy,
		pool.Status,
		pool.Config.ContributionAmount.String(),
		pool.Config.MemberLimit,
		pool.Config.Frequency,
		pool.Config.RotationMode,
		orderJSON,
		formatTime(pool.Config.StartDate),
		pool.Config.CurrentPeriod,
		formatTime(pool.UpdatedAt),
		pool.Version,
		id,
		readVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, rosca.ErrConcurrentModification
	}

	if err := deleteChildren(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := writeChildren(ctx, tx, pool); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return nil, rosca.ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to commit pool: %w", err)
	}
	return pool, nil
}

func (s *Store) Delete(ctx context.Context, id rosca.PoolID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChildren(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM pools WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rosca.ErrPoolNotFound
	}
	return tx.Commit()
}

// Reset removes every pool. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"pool_contributions", "pool_periods", "pool_participants", "pools"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func loadPool(ctx context.Context, q queryer, id rosca.PoolID) (*rosca.Pool, error) {
	var (
		pool                           rosca.Pool
		amount, startDate              string
		createdAt, updatedAt           string
		orderJSON                      sql.NullString
		status, frequency, rotationMod string
		createdBy                      string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, created_by, status, contribution_amount, member_limit, frequency,
		       rotation_mode, rotation_order_json, start_date, current_period,
		       created_at, updated_at, version
		FROM pools WHERE id = ?
	`, id).Scan(
		&pool.ID, &pool.Name, &createdBy, &status, &amount, &pool.Config.MemberLimit, &frequency,
		&rotationMod, &orderJSON, &startDate, &pool.Config.CurrentPeriod,
		&createdAt, &updatedAt, &pool.Version,
	)
	if err == sql.ErrNoRows {
		return nil, rosca.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}

	pool.CreatedBy = rosca.MemberID(createdBy)
	pool.Status = rosca.PoolStatus(status)
	pool.Config.Frequency = rosca.Frequency(frequency)
	pool.Config.RotationMode = rosca.RotationMode(rotationMod)
	if pool.Config.ContributionAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("pool %s: bad contribution amount %q: %w", id, amount, err)
	}
	if orderJSON.Valid && orderJSON.String != "" {
		if err := json.Unmarshal([]byte(orderJSON.String), &pool.Config.RotationOrder); err != nil {
			return nil, fmt.Errorf("pool %s: bad rotation order: %w", id, err)
		}
	}
	pool.Config.StartDate = parseTime(startDate)
	pool.CreatedAt = parseTime(createdAt)
	pool.UpdatedAt = parseTime(updatedAt)

	if pool.Participants, err = loadParticipants(ctx, q, id); err != nil {
		return nil, err
	}
	if pool.Config.Periods, err = loadPeriods(ctx, q, id); err != nil {
		return nil, err
	}
	return &pool, nil
}

func loadParticipants(ctx context.Context, q queryer, id rosca.PoolID) ([]rosca.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, name, joined_at FROM pool_participants
		WHERE pool_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	participants := []rosca.Participant{}
	for rows.Next() {
		var p rosca.Participant
		var userID, joinedAt string
		if err := rows.Scan(&userID, &p.Name, &joinedAt); err != nil {
			return nil, err
		}
		p.UserID = rosca.MemberID(userID)
		p.JoinedAt = parseTime(joinedAt)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func loadPeriods(ctx context.Context, q queryer, id rosca.PoolID) ([]rosca.Period, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT period_index, due_date, payout_date, payout_to, payout_amount, payout_complete
		FROM pool_periods WHERE pool_id = ? ORDER BY period_index ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load periods: %w", err)
	}

	periods := []rosca.Period{}
	for rows.Next() {
		var p rosca.Period
		var dueDate, payoutDate, payoutTo, payoutAmount string
		if err := rows.Scan(&p.Index, &dueDate, &payoutDate, &payoutTo, &payoutAmount, &p.PayoutComplete); err != nil {
			rows.Close()
			return nil, err
		}
		p.DueDate = parseTime(dueDate)
		p.PayoutDate = parseTime(payoutDate)
		p.PayoutTo = rosca.MemberID(payoutTo)
		p.PayoutAmount, _ = decimal.NewFromString(payoutAmount)
		p.Contributions = []rosca.Contribution{}
		periods = append(periods, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return periods, nil
	}

	crow, err := q.QueryContext(ctx, `
		SELECT period_index, member_id, amount_paid, paid_at FROM pool_contributions
		WHERE pool_id = ? ORDER BY period_index ASC, position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load contributions: %w", err)
	}
	defer crow.Close()

	for crow.Next() {
		var idx int
		var memberID, amount, paidAt string
		if err := crow.Scan(&idx, &memberID, &amount, &paidAt); err != nil {
			return nil, err
		}
		if idx < 1 || idx > len(periods) {
			continue
		}
		c := rosca.Contribution{MemberID: rosca.MemberID(memberID), PaidAt: parseTime(paidAt)}
		if c.AmountPaid, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("pool %s: bad contribution amount %q: %w", id, amount, err)
		}
		periods[idx-1].Contributions = append(periods[idx-1].Contributions, c)
	}
	return periods, crow.Err()
}

func deleteChildren(ctx context.Context, q queryer, id rosca.PoolID) error {
	for _, table := range []string{"pool_contributions", "pool_periods", "pool_participants"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE pool_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func writeChildren(ctx context.Context, q queryer, pool *rosca.Pool) error {
	for i, p := range pool.Participants {
		_, err := q.ExecContext(ctx, `
			INSERT INTO pool_participants (pool_id, position, user_id, name, joined_at)
			VALUES (?, ?, ?, ?, ?)
		`, pool.ID, i, p.UserID, p.Name, formatTime(p.JoinedAt))
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	for _, period := range pool.Config.Periods {
		_, err := q.ExecContext(ctx, `
			INSERT INTO pool_periods
			(pool_id, period_index, due_date, payout_date, payout_to, payout_amount, payout_complete)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			pool.ID,
			period.Index,
			formatTime(period.DueDate),
			formatTime(period.PayoutDate),
			period.PayoutTo,
			period.PayoutAmount.String(),
			period.PayoutComplete,
		)
		if err != nil {
			return fmt.Errorf("failed to insert period %d: %w", period.Index, err)
		}

		for pos, c := range period.Contributions {
			_, err := q.ExecContext(ctx, `
				INSERT INTO pool_contributions
				(pool_id, period_index, position, member_id, amount_paid, paid_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, pool.ID, period.Index, pos, c.MemberID, c.AmountPaid.String(), formatTime(c.PaidAt))
			if err != nil {
				return fmt.Errorf("failed to insert contribution: %w", err)
			}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalOrder(order []int) (sql.NullString, error) {
	if len(order) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(order)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}
