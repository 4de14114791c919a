// Package calculator provides the pricing calculators promotions use to
// compute discount magnitudes. Calculators are pure: for a given order
// snapshot they always return the same non-negative amount, rounded to two
// decimal places.
package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/order"
)

var hundred = decimal.NewFromInt(100)

// Calculator maps a priced order snapshot to a monetary magnitude.
type Calculator interface {
	Compute(ord *order.Order) (decimal.Decimal, error)
}

var (
	_ Calculator = (*FlatRate)(nil)
	_ Calculator = (*FlatPercentItemTotal)(nil)
	_ Calculator = (*FlexiRate)(nil)
	_ Calculator = (*PerItem)(nil)
	_ Calculator = (*FreeShipping)(nil)
)

// FlatRate returns a fixed configured amount regardless of the order.
type FlatRate struct {
	Amount decimal.Decimal `json:"amount"`
}

func (c *FlatRate) Compute(_ *order.Order) (decimal.Decimal, error) {
	return clamp(c.Amount), nil
}

// FlatPercentItemTotal returns the configured percentage of the order's item
// total.
type FlatPercentItemTotal struct {
	Percent decimal.Decimal `json:"percent"`
}

func (c *FlatPercentItemTotal) Compute(ord *order.Order) (decimal.Decimal, error) {
	return clamp(ord.ItemTotal.Mul(c.Percent).Div(hundred)), nil
}

// Tier is a single row of a FlexiRate table.
type Tier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Amount    decimal.Decimal `json:"amount"`
}

// FlexiRate picks an amount from a tiered table keyed by the order's item
// total: the highest tier whose threshold is covered wins, with Base as the
// fallback when no tier matches.
type FlexiRate struct {
	Base  decimal.Decimal `json:"base"`
	Tiers []Tier          `json:"tiers"`
}

func (c *FlexiRate) Compute(ord *order.Order) (decimal.Decimal, error) {
	best := c.Base
	matched := false
	var bestThreshold decimal.Decimal
	for _, t := range c.Tiers {
		if ord.ItemTotal.GreaterThanOrEqual(t.Threshold) {
			if !matched || t.Threshold.GreaterThan(bestThreshold) {
				best = t.Amount
				bestThreshold = t.Threshold
				matched = true
			}
		}
	}
	return clamp(best), nil
}

// PerItem returns a configured per-unit amount multiplied by the quantity of
// matching line items. An empty product set matches every item.
type PerItem struct {
	Amount     decimal.Decimal `json:"amount"`
	ProductIDs []string        `json:"product_ids"`
}

func (c *PerItem) Compute(ord *order.Order) (decimal.Decimal, error) {
	wanted := make(map[string]struct{}, len(c.ProductIDs))
	for _, id := range c.ProductIDs {
		wanted[id] = struct{}{}
	}

	count := int64(0)
	for _, item := range ord.LineItems {
		if len(wanted) > 0 {
			if _, ok := wanted[item.ProductID]; !ok {
				continue
			}
		}
		count += int64(item.Quantity)
	}

	return clamp(c.Amount.Mul(decimal.NewFromInt(count))), nil
}

// FreeShipping returns exactly the order's current shipping total, zeroing the
// shipping cost when applied as a discount.
type FreeShipping struct{}

func (c *FreeShipping) Compute(ord *order.Order) (decimal.Decimal, error) {
	return clamp(ord.ShipTotal), nil
}

// clamp floors the amount at zero and applies standard monetary rounding.
func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
