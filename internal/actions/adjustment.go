// Package actions provides the built-in promotion action variants.
package actions

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/calculator"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

var _ promotion.Action = (*CreateAdjustment)(nil)

// CreateAdjustment attaches a negative adjustment to the order, with the
// magnitude computed by the configured calculator. It is idempotent per
// (promotion, order): at most one credit is ever created, no matter how often
// it runs or how many requests race.
type CreateAdjustment struct {
	ActionID    string
	PromotionID string
	Label       string

	Calculator calculator.Calculator
	Orders     order.Repository
	Promotions promotion.Repository
}

func (a *CreateAdjustment) ID() string { return a.ActionID }

// Perform checks for an existing promotion credit, and if none exists appends
// a new adjustment with the negated calculator amount and increments the
// promotion's credit counter. Losing the check-then-create race to a
// concurrent request is success: the store's uniqueness guarantee means the
// credit exists either way.
func (a *CreateAdjustment) Perform(ctx context.Context, ord *order.Order) (promotion.Outcome, error) {
	exists, err := a.Orders.PromotionCreditExists(ctx, ord.ID, a.PromotionID)
	if err != nil {
		return "", errors.Wrap(err, "check promotion credit")
	}
	if exists {
		return promotion.OutcomeAlreadyApplied, nil
	}

	amount, err := a.Calculator.Compute(ord)
	if err != nil {
		return "", errors.Wrap(err, "compute discount")
	}

	adj := order.Adjustment{
		ID:          uuid.New().String(),
		Amount:      amount.Neg(),
		Label:       a.Label,
		ActionID:    a.ActionID,
		PromotionID: a.PromotionID,
	}
	if err := a.Orders.AppendAdjustment(ctx, ord.ID, adj); err != nil {
		if errors.Is(err, order.ErrPromotionCreditExists) {
			zctx.From(ctx).Debug("lost promotion credit race",
				zap.String("order_id", ord.ID),
				zap.String("promotion_id", a.PromotionID),
			)
			return promotion.OutcomeAlreadyApplied, nil
		}
		return "", errors.Wrap(err, "append adjustment")
	}

	if err := a.Promotions.IncrementCredits(ctx, a.PromotionID); err != nil {
		return "", errors.Wrap(err, "increment promotion credits")
	}

	ord.Adjustments = append(ord.Adjustments, adj)
	return promotion.OutcomeApplied, nil
}
