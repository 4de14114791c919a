// Package rules provides the built-in promotion rule variants.
package rules

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

var (
	_ promotion.Rule = (*ItemTotal)(nil)
	_ promotion.Rule = (*Product)(nil)
	_ promotion.Rule = (*User)(nil)
	_ promotion.Rule = (*FirstOrder)(nil)
	_ promotion.Rule = (*LandingPage)(nil)
)

// Comparison operators accepted by ItemTotal.
const (
	OperatorGTE = "gte"
	OperatorGT  = "gt"
)

// ItemTotal is eligible when the order's item total reaches the threshold.
type ItemTotal struct {
	Threshold decimal.Decimal `json:"threshold"`
	// Operator is gte (default) or gt.
	Operator string `json:"operator"`
}

func (r *ItemTotal) Eligible(ord *order.Order, _ *promotion.Event) (bool, error) {
	switch r.Operator {
	case OperatorGT:
		return ord.ItemTotal.GreaterThan(r.Threshold), nil
	case OperatorGTE, "":
		return ord.ItemTotal.GreaterThanOrEqual(r.Threshold), nil
	default:
		return false, errors.Errorf("unsupported item total operator: %q", r.Operator)
	}
}

// Product is eligible when the order contains at least one line item from the
// configured product set. An empty set matches any order.
type Product struct {
	ProductIDs []string `json:"product_ids"`
}

func (r *Product) Eligible(ord *order.Order, _ *promotion.Event) (bool, error) {
	if len(r.ProductIDs) == 0 {
		return true, nil
	}
	wanted := make(map[string]struct{}, len(r.ProductIDs))
	for _, id := range r.ProductIDs {
		wanted[id] = struct{}{}
	}
	for _, item := range ord.LineItems {
		if _, ok := wanted[item.ProductID]; ok {
			return true, nil
		}
	}
	return false, nil
}

// User is eligible when the order belongs to one of the configured users.
type User struct {
	UserIDs []string `json:"user_ids"`
}

func (r *User) Eligible(ord *order.Order, _ *promotion.Event) (bool, error) {
	for _, id := range r.UserIDs {
		if id == ord.User.ID {
			return true, nil
		}
	}
	return false, nil
}

// FirstOrder is eligible when the order's user has no previously completed
// orders. Guest orders (no user) are not eligible.
type FirstOrder struct{}

func (r *FirstOrder) Eligible(ord *order.Order, _ *promotion.Event) (bool, error) {
	if ord.User.ID == "" {
		return false, nil
	}
	return ord.User.CompletedOrders == 0, nil
}

// LandingPage is eligible when the configured path is among the visited paths
// carried by the event payload. Paths are compared with surrounding slashes
// stripped.
type LandingPage struct {
	Path string `json:"path"`
}

func (r *LandingPage) Eligible(_ *order.Order, ev *promotion.Event) (bool, error) {
	want := strings.Trim(r.Path, "/")
	for _, p := range ev.VisitedPaths() {
		if strings.Trim(p, "/") == want {
			return true, nil
		}
	}
	return false, nil
}
