// Package sqlite is the durable order journal: copy order lifecycle rows and
// the leader trade history the sizing strategies read.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"copy-systemv1/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/copytrading.db"
}

// Store implements model.OrderStore and model.TradeHistory over one SQLite
// database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and initializes the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer workload
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS copy_orders (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			leader_trade_id TEXT    NOT NULL,
			follower_id     TEXT    NOT NULL,
			symbol          TEXT    NOT NULL,
			side            TEXT    NOT NULL,
			qty             INTEGER NOT NULL,
			status          TEXT    NOT NULL,
			broker_order_id TEXT,
			error_message   TEXT,
			filled_at       TEXT,
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL,
			UNIQUE (leader_trade_id, follower_id)
		);

		CREATE INDEX IF NOT EXISTS idx_copy_orders_follower
			ON copy_orders (follower_id, status);

		CREATE TABLE IF NOT EXISTS leader_trades (
			trade_id       TEXT    PRIMARY KEY,
			leader_id      TEXT    NOT NULL,
			connection_id  TEXT    NOT NULL,
			account_number TEXT    NOT NULL,
			symbol         TEXT    NOT NULL,
			side           TEXT    NOT NULL,
			qty            INTEGER NOT NULL,
			fill_price     INTEGER NOT NULL,
			filled_at      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_leader_trades_lookup
			ON leader_trades (leader_id, symbol, filled_at);
	`)
	return err
}

// ── model.OrderStore ──

// CreateQueued inserts a new QUEUED order. The UNIQUE(leader_trade_id,
// follower_id) constraint makes replays a no-op: the second insert changes
// no rows and created=false is returned.
func (s *Store) CreateQueued(ctx context.Context, o *model.CopyOrder) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO copy_orders
			(leader_trade_id, follower_id, symbol, side, qty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, o.LeaderTradeID, o.FollowerID, o.Symbol, string(o.Side), o.Qty,
		string(model.StatusQueued), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("inserting copy order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	o.ID = id
	o.Status = model.StatusQueued
	o.CreatedAt = now
	o.UpdatedAt = now
	return true, nil
}

// MarkPlaced transitions a QUEUED order to PLACED.
func (s *Store) MarkPlaced(ctx context.Context, id int64, brokerOrderID string, filledAt time.Time) error {
	return s.transition(ctx, id, model.StatusQueued, model.StatusPlaced, `
		UPDATE copy_orders
		SET status = ?, broker_order_id = ?, filled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusPlaced), brokerOrderID, filledAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id, string(model.StatusQueued))
}

// MarkFailed transitions a QUEUED order to FAILED with the broker error.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.transition(ctx, id, model.StatusQueued, model.StatusFailed, `
		UPDATE copy_orders
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusFailed), errMsg,
		time.Now().UTC().Format(time.RFC3339), id, string(model.StatusQueued))
}

func (s *Store) transition(ctx context.Context, id int64, from, to model.OrderStatus, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating order %d to %s: %w", id, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order %d not in %s state", id, from)
	}
	return nil
}

// Cancel transitions a QUEUED order to CANCELLED. Returns false without
// error when the order already left QUEUED.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE copy_orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusCancelled), time.Now().UTC().Format(time.RFC3339),
		id, string(model.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("cancelling order %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountReplicated returns how many of the follower's copy orders reached
// PLACED or FILLED.
func (s *Store) CountReplicated(ctx context.Context, followerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM copy_orders
		WHERE follower_id = ? AND status IN (?, ?)
	`, followerID, string(model.StatusPlaced), string(model.StatusFilled)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting replicated orders: %w", err)
	}
	return count, nil
}

// OrdersForFollower returns the follower's copy orders, newest first.
func (s *Store) OrdersForFollower(ctx context.Context, followerID string, limit int) ([]model.CopyOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, leader_trade_id, follower_id, symbol, side, qty, status,
		       COALESCE(broker_order_id, ''), COALESCE(error_message, ''),
		       filled_at, created_at, updated_at
		FROM copy_orders
		WHERE follower_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying copy orders: %w", err)
	}
	defer rows.Close()

	var orders []model.CopyOrder
	for rows.Next() {
		var o model.CopyOrder
		var side, status string
		var filledAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&o.ID, &o.LeaderTradeID, &o.FollowerID, &o.Symbol, &side, &o.Qty,
			&status, &o.BrokerOrderID, &o.ErrorMessage, &filledAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning copy order: %w", err)
		}
		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		if filledAt.Valid {
			if t, err := time.Parse(time.RFC3339, filledAt.String); err == nil {
				o.FilledAt = &t
			}
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── model.TradeHistory ──

// RecordLeaderTrade persists an incoming leader trade. Replaying the same
// trade_id changes nothing.
func (s *Store) RecordLeaderTrade(ctx context.Context, ev model.LeaderTradeEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO leader_trades
			(trade_id, leader_id, connection_id, account_number, symbol, side, qty, fill_price, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.TradeID, ev.LeaderID, ev.BrokerConnectionID, ev.AccountNumber, ev.Symbol,
		string(ev.Side), ev.Qty, ev.FillPrice, ev.FilledAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting leader trade: %w", err)
	}
	return nil
}

// LeaderTrades returns the leader's trades in the symbol filled at or after
// since, oldest first. A positive limit keeps the newest limit trades.
func (s *Store) LeaderTrades(ctx context.Context, leaderID, symbol string, since time.Time, limit int) ([]model.LeaderTradeEvent, error) {
	query := `
		SELECT trade_id, leader_id, connection_id, account_number, symbol, side, qty, fill_price, filled_at
		FROM leader_trades
		WHERE leader_id = ? AND symbol = ? AND filled_at >= ?
		ORDER BY filled_at DESC
	`
	args := []any{leaderID, symbol, since.UTC().Format(time.RFC3339)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leader trades: %w", err)
	}
	defer rows.Close()

	var trades []model.LeaderTradeEvent
	for rows.Next() {
		var ev model.LeaderTradeEvent
		var side, filledAt string
		if err := rows.Scan(&ev.TradeID, &ev.LeaderID, &ev.BrokerConnectionID, &ev.AccountNumber,
			&ev.Symbol, &side, &ev.Qty, &ev.FillPrice, &filledAt); err != nil {
			return nil, fmt.Errorf("scanning leader trade: %w", err)
		}
		ev.Side = model.Side(side)
		ev.FilledAt, _ = time.Parse(time.RFC3339, filledAt)
		trades = append(trades, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest-first to apply the limit; callers want oldest-first.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}
