package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/order"
)

// PostgreSQL unique_violation error code.
const pgUniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get loads the order snapshot: totals, line items, adjustments, and the
// user's prior completed-order count.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o := &order.Order{ID: id}

	err := r.pool.QueryRow(ctx, `
		SELECT user_id, item_total, ship_total, created_at
		FROM orders WHERE id = $1`, id,
	).Scan(&o.User.ID, &o.ItemTotal, &o.ShipTotal, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "query order %s", id)
	}

	if err := r.loadLineItems(ctx, o); err != nil {
		return nil, err
	}
	if err := r.loadAdjustments(ctx, o); err != nil {
		return nil, err
	}

	if o.User.ID != "" {
		count, err := r.countCompletedBefore(ctx, o.User.ID, o.ID)
		if err != nil {
			return nil, err
		}
		o.User.CompletedOrders = count
	}

	return o, nil
}

func (r *OrderRepository) loadLineItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, quantity, unit_price, promotion_id
		FROM line_items WHERE order_id = $1
		ORDER BY id`, o.ID)
	if err != nil {
		return errors.Wrapf(err, "query line items for order %s", o.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var item order.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.PromotionID); err != nil {
			return errors.Wrap(err, "scan line item")
		}
		o.LineItems = append(o.LineItems, item)
	}
	return errors.Wrap(rows.Err(), "iterate line items")
}

func (r *OrderRepository) loadAdjustments(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, amount, label, action_id, promotion_id
		FROM adjustments WHERE order_id = $1
		ORDER BY created_at, id`, o.ID)
	if err != nil {
		return errors.Wrapf(err, "query adjustments for order %s", o.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var adj order.Adjustment
		if err := rows.Scan(&adj.ID, &adj.Amount, &adj.Label, &adj.ActionID, &adj.PromotionID); err != nil {
			return errors.Wrap(err, "scan adjustment")
		}
		o.Adjustments = append(o.Adjustments, adj)
	}
	return errors.Wrap(rows.Err(), "iterate adjustments")
}

// PromotionCreditExists reports whether the order already carries a negative
// adjustment from the given promotion.
func (r *OrderRepository) PromotionCreditExists(ctx context.Context, orderID, promotionID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM adjustments
			WHERE order_id = $1 AND promotion_id = $2 AND amount < 0
		)`, orderID, promotionID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check promotion credit for order %s", orderID)
	}
	return exists, nil
}

// AppendAdjustment inserts the adjustment. The partial unique index on
// (order_id, promotion_id) resolves concurrent inserts of the same promotion
// credit; the loser gets order.ErrPromotionCreditExists.
func (r *OrderRepository) AppendAdjustment(ctx context.Context, orderID string, adj order.Adjustment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO adjustments (id, order_id, amount, label, action_id, promotion_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		adj.ID, orderID, adj.Amount, adj.Label, adj.ActionID, adj.PromotionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return order.ErrPromotionCreditExists
		}
		return errors.Wrapf(err, "insert adjustment for order %s", orderID)
	}
	return nil
}

// AppendLineItems inserts promotion-granted items under a row lock on the
// order, so concurrent grants of the same promotion cannot duplicate them.
func (r *OrderRepository) AppendLineItems(ctx context.Context, orderID, promotionID string, items []order.LineItem) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked int
	err = tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, order.ErrNotFound
		}
		return false, errors.Wrapf(err, "lock order %s", orderID)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM line_items WHERE order_id = $1 AND promotion_id = $2
		)`, orderID, promotionID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check promotion line items for order %s", orderID)
	}
	if exists {
		return false, nil
	}

	for _, item := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO line_items (id, order_id, product_id, quantity, unit_price, promotion_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, orderID, item.ProductID, item.Quantity, item.UnitPrice, item.PromotionID,
		)
		if err != nil {
			return false, errors.Wrapf(err, "insert line item for order %s", orderID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// CountCompletedByUser returns the number of completed orders for the user.
func (r *OrderRepository) CountCompletedByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND completed_at IS NOT NULL`, userID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "count completed orders for user %s", userID)
	}
	return count, nil
}

func (r *OrderRepository) countCompletedBefore(ctx context.Context, userID, excludeOrderID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND completed_at IS NOT NULL AND id <> $2`,
		userID, excludeOrderID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "count completed orders for user %s", userID)
	}
	return count, nil
}
