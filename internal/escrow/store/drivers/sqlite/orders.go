package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
)

type ordersRepo struct {
	db dbtx
}

const orderColumns = `id, listing_id, buyer_id, seller_id, amount, currency, status,
	funding_tx_hash, release_tx_hash, review_reason, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                    domain.Order
		status               string
		fundingTx, releaseTx sql.NullString
		reviewReason         sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Amount, &o.Currency, &status,
		&fundingTx, &releaseTx, &reviewReason, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	o.Status = domain.OrderStatus(status)
	o.FundingTxHash = mapNullStringPtr(fundingTx)
	o.ReleaseTxHash = mapNullStringPtr(releaseTx)
	o.ReviewReason = mapNullStringPtr(reviewReason)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (r *ordersRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	chainKey, err := domain.ChainOrderKey(o.ID)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (id, listing_id, buyer_id, seller_id, amount, currency,
		                     chain_order_id, status, funding_tx_hash, release_tx_hash,
		                     review_reason, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount, o.Currency,
		chainKey, string(o.Status),
		mapOptionalString(o.FundingTxHash),
		mapOptionalString(o.ReleaseTxHash),
		mapOptionalString(o.ReviewReason),
		o.Version,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *ordersRepo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

func (r *ordersRepo) GetOrderByChainKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE chain_order_id = ?`, key)
	return scanOrder(row)
}

func (r *ordersRepo) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE buyer_id = ? OR seller_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		userID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *ordersRepo) ListOrdersInStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderVersioned is the optimistic write path. The WHERE clause pins
// the version the caller read at, so a concurrent writer that already
// advanced the row makes this a no-op and the caller gets
// ErrVersionConflict instead of a lost update.
func (r *ordersRepo) UpdateOrderVersioned(ctx context.Context, o *domain.Order) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, funding_tx_hash = ?, release_tx_hash = ?, review_reason = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(o.Status),
		mapOptionalString(o.FundingTxHash),
		mapOptionalString(o.ReleaseTxHash),
		mapOptionalString(o.ReviewReason),
		now,
		o.ID, o.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a stale version for callers that care.
		if _, getErr := r.GetOrder(ctx, o.ID); getErr != nil {
			return getErr
		}
		return store.ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

func (r *ordersRepo) AppendTx(ctx context.Context, tx domain.OrderTx) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO order_txs (id, order_id, kind, tx_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tx.ID, tx.OrderID, string(tx.Kind), tx.TxHash, tx.CreatedAt.UTC())
	return err
}

func (r *ordersRepo) ListTxHistory(ctx context.Context, orderID string) ([]domain.OrderTx, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, kind, tx_hash, created_at FROM order_txs
		 WHERE order_id = ?
		 ORDER BY created_at ASC`,
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderTx
	for rows.Next() {
		var (
			tx   domain.OrderTx
			kind string
		)
		if err := rows.Scan(&tx.ID, &tx.OrderID, &kind, &tx.TxHash, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = domain.TxKind(kind)
		tx.CreatedAt = tx.CreatedAt.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}
