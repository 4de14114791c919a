package actions

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

var _ promotion.Action = (*CreateLineItems)(nil)

// BonusItem configures one free or discounted line item granted by a
// CreateLineItems action.
type BonusItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateLineItems adds the configured bonus items to the order, tagged with
// the granting promotion. Orders that already carry items from this promotion
// are left untouched.
type CreateLineItems struct {
	ActionID    string
	PromotionID string
	Items       []BonusItem

	Orders order.Repository
}

func (a *CreateLineItems) ID() string { return a.ActionID }

func (a *CreateLineItems) Perform(ctx context.Context, ord *order.Order) (promotion.Outcome, error) {
	if len(a.Items) == 0 {
		return promotion.OutcomeAlreadyApplied, nil
	}

	items := make([]order.LineItem, len(a.Items))
	for i, b := range a.Items {
		items[i] = order.LineItem{
			ID:          uuid.New().String(),
			ProductID:   b.ProductID,
			Quantity:    b.Quantity,
			UnitPrice:   b.UnitPrice,
			PromotionID: a.PromotionID,
		}
	}

	added, err := a.Orders.AppendLineItems(ctx, ord.ID, a.PromotionID, items)
	if err != nil {
		return "", errors.Wrap(err, "append line items")
	}
	if !added {
		return promotion.OutcomeAlreadyApplied, nil
	}

	ord.LineItems = append(ord.LineItems, items...)
	return promotion.OutcomeApplied, nil
}
