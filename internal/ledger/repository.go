// Package ledger records submitted orders and fills in Postgres. It is an
// audit trail, deliberately thin: the brokerage's own order list remains
// the source of truth for reconciliation.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// DatabasePool is the slice of pgx the repository needs; satisfied by both
// *pgxpool.Pool and pgxmock.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// OrderRecord is one persisted order submission.
type OrderRecord struct {
	ID            int64            `json:"id" db:"id"`
	Strategy      string           `json:"strategy" db:"strategy"`
	ClientOrderID string           `json:"client_order_id" db:"client_order_id"`
	BrokerOrderID string           `json:"broker_order_id" db:"broker_order_id"`
	Symbol        string           `json:"symbol" db:"symbol"`
	Side          string           `json:"side" db:"side"`
	Qty           *decimal.Decimal `json:"qty,omitempty" db:"qty"`
	Notional      *decimal.Decimal `json:"notional,omitempty" db:"notional"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Repository handles ledger database operations.
type Repository struct {
	pool DatabasePool
}

// NewRepository creates a ledger repository.
func NewRepository(pool DatabasePool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			strategy TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			broker_order_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty NUMERIC,
			notional NUMERIC,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS fills (
			id BIGSERIAL PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			qty NUMERIC NOT NULL,
			price NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// RecordOrder persists one order submission.
func (r *Repository) RecordOrder(ctx context.Context, strategy string, order models.Order, status *models.OrderStatus) error {
	brokerID := ""
	if status != nil {
		brokerID = status.ID
	}

	query := `
		INSERT INTO orders (strategy, client_order_id, broker_order_id, symbol, side, qty, notional)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		strategy, order.ClientOrderID, brokerID, order.Symbol, string(order.Side), order.Qty, order.Notional)
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// RecordFill persists one fill.
func (r *Repository) RecordFill(ctx context.Context, strategy, symbol string, qty, price decimal.Decimal) error {
	query := `
		INSERT INTO fills (strategy, symbol, qty, price)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, strategy, symbol, qty, price); err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	return nil
}

// BuyPrice returns the most recent recorded fill price for a symbol.
func (r *Repository) BuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := `
		SELECT price FROM fills
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var price decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, symbol).Scan(&price); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch buy price: %w", err)
	}
	return price, nil
}

// RecentOrders returns the latest recorded orders, newest first.
func (r *Repository) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	query := `
		SELECT id, strategy, client_order_id, broker_order_id, symbol, side, qty, notional, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(
			&rec.ID, &rec.Strategy, &rec.ClientOrderID, &rec.BrokerOrderID,
			&rec.Symbol, &rec.Side, &rec.Qty, &rec.Notional, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order records: %w", err)
	}

	return records, nil
}
