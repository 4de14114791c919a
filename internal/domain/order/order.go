package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPromotionCreditExists is returned by AppendAdjustment when the order
	// already carries a promotion credit for the same promotion. Callers treat
	// it as success: the one-credit-per-promotion invariant still holds.
	ErrPromotionCreditExists = errors.New("promotion credit already exists")
)

// User identifies the order's customer together with the number of orders they
// completed before this one.
type User struct {
	ID              string
	CompletedOrders int
}

// LineItem is a single priced position on an order. PromotionID is empty for
// regular items and carries the granting promotion's ID for bonus items.
type LineItem struct {
	ID          string
	ProductID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	PromotionID string
}

// Adjustment is a signed monetary line attached to an order. Promotion
// discounts have a negative Amount and reference the action and promotion
// that created them.
type Adjustment struct {
	ID          string
	Amount      decimal.Decimal
	Label       string
	ActionID    string
	PromotionID string
}

// Order is a snapshot of an order as seen by the promotion engine. Totals and
// collections reflect the state at load time; mutations go through the
// Repository and are mirrored into the snapshot by the action layer.
type Order struct {
	ID          string
	User        User
	ItemTotal   decimal.Decimal
	ShipTotal   decimal.Decimal
	LineItems   []LineItem
	Adjustments []Adjustment
	CreatedAt   time.Time
}

// PromotionCredit returns the negative adjustment created by the given
// promotion, or nil when the order has none.
func (o *Order) PromotionCredit(promotionID string) *Adjustment {
	if o == nil || promotionID == "" {
		return nil
	}
	for i := range o.Adjustments {
		adj := &o.Adjustments[i]
		if adj.PromotionID == promotionID && adj.Amount.IsNegative() {
			return adj
		}
	}
	return nil
}

// Repository defines the persistence operations the engine needs on orders.
//
// AppendAdjustment must be atomic per (order, promotion): when two concurrent
// calls race to create the same promotion credit, exactly one insert succeeds
// and the loser gets ErrPromotionCreditExists.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	PromotionCreditExists(ctx context.Context, orderID, promotionID string) (bool, error)
	AppendAdjustment(ctx context.Context, orderID string, adj Adjustment) error
	// AppendLineItems adds promotion-granted items to the order. It reports
	// false without inserting when the order already carries items from the
	// same promotion.
	AppendLineItems(ctx context.Context, orderID, promotionID string, items []LineItem) (bool, error)
	CountCompletedByUser(ctx context.Context, userID string) (int, error)
}
