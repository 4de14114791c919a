package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/actions"
	"github.com/xenking/promo-engine/internal/calculator"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/registry"
	"github.com/xenking/promo-engine/internal/rules"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// memPromotionRepo is an in-memory promotion.Repository.
type memPromotionRepo struct {
	mu        sync.Mutex
	promos    []*promotion.Promotion
	listCalls int
}

func (m *memPromotionRepo) List(_ context.Context) ([]*promotion.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.promos, nil
}

func (m *memPromotionRepo) IncrementCredits(_ context.Context, promotionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.promos {
		if p.ID == promotionID {
			p.CreditsCount++
			return nil
		}
	}
	return errors.Errorf("promotion %s not found", promotionID)
}

func (m *memPromotionRepo) ListCodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for _, p := range m.promos {
		if p.Code != "" {
			codes = append(codes, p.Code)
		}
	}
	return codes, nil
}

// memOrderRepo is an in-memory order.Repository enforcing the one-credit
// constraint the way the database unique index does.
type memOrderRepo struct {
	mu          sync.Mutex
	adjustments map[string][]order.Adjustment
	lineItems   map[string][]order.LineItem
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		adjustments: make(map[string][]order.Adjustment),
		lineItems:   make(map[string][]order.LineItem),
	}
}

func (m *memOrderRepo) Get(_ context.Context, _ string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) PromotionCreditExists(_ context.Context, orderID, promotionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditExists(orderID, promotionID), nil
}

func (m *memOrderRepo) AppendAdjustment(_ context.Context, orderID string, adj order.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adj.Amount.IsNegative() && adj.PromotionID != "" && m.creditExists(orderID, adj.PromotionID) {
		return order.ErrPromotionCreditExists
	}
	m.adjustments[orderID] = append(m.adjustments[orderID], adj)
	return nil
}

func (m *memOrderRepo) AppendLineItems(_ context.Context, orderID, promotionID string, items []order.LineItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.lineItems[orderID] {
		if item.PromotionID == promotionID {
			return false, nil
		}
	}
	m.lineItems[orderID] = append(m.lineItems[orderID], items...)
	return true, nil
}

func (m *memOrderRepo) CountCompletedByUser(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (m *memOrderRepo) creditExists(orderID, promotionID string) bool {
	for _, adj := range m.adjustments[orderID] {
		if adj.PromotionID == promotionID && adj.Amount.IsNegative() {
			return true
		}
	}
	return false
}

func freeShippingPromotion(orders order.Repository, promos promotion.Repository) *promotion.Promotion {
	p := &promotion.Promotion{
		ID:        "p1",
		Name:      "Free Shipping",
		Code:      "FREESHIP",
		EventName: promotion.EventCouponCodeAdded,
	}
	p.Actions = []promotion.Action{
		&actions.CreateAdjustment{
			ActionID:    uuid.New().String(),
			PromotionID: p.ID,
			Label:       p.Label(),
			Calculator:  &calculator.FreeShipping{},
			Orders:      orders,
			Promotions:  promos,
		},
	}
	return p
}

func TestEngine_Apply_FreeShippingCoupon(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	promos := &memPromotionRepo{}
	promos.promos = []*promotion.Promotion{freeShippingPromotion(orders, promos)}

	eng, err := New(promos, orders)
	require.NoError(t, err)

	ord := &order.Order{ID: "o1", ItemTotal: d("50"), ShipTotal: d("5")}
	ev := &promotion.Event{
		Name:    promotion.EventCouponCodeAdded,
		Payload: map[string]any{"coupon_code": "FREESHIP"},
	}

	applied, err := eng.Apply(ctx, ord, ev)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Len(t, applied[0].Results, 1)
	assert.Equal(t, promotion.OutcomeApplied, applied[0].Results[0].Outcome)

	adjs := orders.adjustments["o1"]
	require.Len(t, adjs, 1)
	assert.True(t, d("-5").Equal(adjs[0].Amount), "discount is the ship total, got %s", adjs[0].Amount)
	assert.Equal(t, 1, promos.promos[0].CreditsCount)

	// Re-running the same event must not double-apply.
	applied, err = eng.Apply(ctx, ord, ev)
	require.NoError(t, err)
	require.Len(t, applied, 1, "promotion stays eligible after crediting")
	assert.Equal(t, promotion.OutcomeAlreadyApplied, applied[0].Results[0].Outcome)
	assert.Len(t, orders.adjustments["o1"], 1)
	assert.Equal(t, 1, promos.promos[0].CreditsCount)
}

func TestEngine_Apply_WrongCoupon(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	promos := &memPromotionRepo{}
	promos.promos = []*promotion.Promotion{freeShippingPromotion(orders, promos)}

	eng, err := New(promos, orders)
	require.NoError(t, err)

	ord := &order.Order{ID: "o1", ItemTotal: d("50"), ShipTotal: d("5")}
	ev := &promotion.Event{
		Name:    promotion.EventCouponCodeAdded,
		Payload: map[string]any{"coupon_code": "WRONG"},
	}

	applied, err := eng.Apply(ctx, ord, ev)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, orders.adjustments["o1"])
}

func TestEngine_Apply_UnknownCodeShortCircuits(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	promos := &memPromotionRepo{}
	promos.promos = []*promotion.Promotion{freeShippingPromotion(orders, promos)}

	filter, err := LoadCodeFilter(ctx, promos)
	require.NoError(t, err)
	promos.listCalls = 0

	eng, err := New(promos, orders, WithCodeFilter(filter))
	require.NoError(t, err)

	ev := &promotion.Event{
		Name:    promotion.EventCouponCodeAdded,
		Payload: map[string]any{"coupon_code": "TOTALLY-BOGUS"},
	}
	applied, err := eng.Apply(ctx, &order.Order{ID: "o1"}, ev)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, 0, promos.listCalls, "unknown code must not hit the store")

	// A known code passes the filter and evaluates normally.
	ev.Payload["coupon_code"] = "FREESHIP"
	applied, err = eng.Apply(ctx, &order.Order{ID: "o1", ShipTotal: d("5")}, ev)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
	assert.Equal(t, 1, promos.listCalls)
}

func TestEngine_Apply_CheckoutStagePromotion(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	promos := &memPromotionRepo{}

	// Config-built promotion: 10% off orders of $50 or more, no event binding.
	reg := registry.New()
	registry.RegisterDefaults(ctx, reg, nil, nil)

	p, err := reg.BuildPromotion(registry.PromotionConfig{
		ID:   "p2",
		Name: "10% off big orders",
		Rules: []registry.RuleConfig{
			{Type: registry.RuleItemTotal, Params: json.RawMessage(`{"threshold": "50"}`)},
		},
		Actions: []registry.ActionConfig{
			{
				Type: registry.ActionCreateAdjustment,
				Calculator: &registry.CalculatorConfig{
					Type:   registry.CalculatorFlatPercentItemTotal,
					Params: json.RawMessage(`{"percent": "10"}`),
				},
			},
		},
	}, registry.ActionDeps{Orders: orders, Promotions: promos})
	require.NoError(t, err)
	promos.promos = []*promotion.Promotion{p}

	eng, err := New(promos, orders)
	require.NoError(t, err)

	t.Run("qualifying order gets the discount without any event", func(t *testing.T) {
		ord := &order.Order{ID: "o1", ItemTotal: d("50")}
		applied, err := eng.Apply(ctx, ord, nil)
		require.NoError(t, err)
		require.Len(t, applied, 1)

		adjs := orders.adjustments["o1"]
		require.Len(t, adjs, 1)
		assert.True(t, d("-5").Equal(adjs[0].Amount), "10%% of 50, got %s", adjs[0].Amount)
		assert.Equal(t, "Promotion (10% off big orders)", adjs[0].Label)
	})

	t.Run("order below threshold is not eligible", func(t *testing.T) {
		ord := &order.Order{ID: "o2", ItemTotal: d("49.99")}
		applied, err := eng.Apply(ctx, ord, nil)
		require.NoError(t, err)
		assert.Empty(t, applied)
		assert.Empty(t, orders.adjustments["o2"])
	})
}

type failingRule struct{ err error }

func (r *failingRule) Eligible(_ *order.Order, _ *promotion.Event) (bool, error) {
	return false, r.err
}

func TestEngine_Apply_RuleErrorPropagates(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	ruleErr := errors.New("rule blew up")
	promos := &memPromotionRepo{promos: []*promotion.Promotion{
		{ID: "p3", Name: "broken", Rules: []promotion.Rule{&failingRule{err: ruleErr}}},
	}}

	eng, err := New(promos, orders)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, &order.Order{ID: "o1"}, nil)
	require.ErrorIs(t, err, ruleErr, "evaluation failures must not be masked as ineligibility")
}

func TestEngine_Apply_BonusLineItems(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrderRepo()
	promos := &memPromotionRepo{}

	p := &promotion.Promotion{ID: "p4", Name: "Free gift", Rules: []promotion.Rule{
		&rules.ItemTotal{Threshold: d("30")},
	}}
	p.Actions = []promotion.Action{
		&actions.CreateLineItems{
			ActionID:    uuid.New().String(),
			PromotionID: p.ID,
			Items:       []actions.BonusItem{{ProductID: "gift", Quantity: 1, UnitPrice: decimal.Zero}},
			Orders:      orders,
		},
	}
	promos.promos = []*promotion.Promotion{p}

	eng, err := New(promos, orders)
	require.NoError(t, err)

	ord := &order.Order{ID: "o1", ItemTotal: d("40")}
	applied, err := eng.Apply(ctx, ord, nil)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Len(t, orders.lineItems["o1"], 1)
	assert.Equal(t, "gift", orders.lineItems["o1"][0].ProductID)

	// Second run keeps the single gift.
	_, err = eng.Apply(ctx, ord, nil)
	require.NoError(t, err)
	assert.Len(t, orders.lineItems["o1"], 1)
}
