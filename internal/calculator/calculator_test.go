package calculator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/order"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCompute(t *testing.T) {
	ord := &order.Order{
		ID:        "o1",
		ItemTotal: d("50"),
		ShipTotal: d("5"),
		LineItems: []order.LineItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: d("10")},
			{ProductID: "p2", Quantity: 3, UnitPrice: d("10")},
		},
	}

	tests := []struct {
		name string
		calc Calculator
		ord  *order.Order
		want decimal.Decimal
	}{
		{
			name: "flat rate returns configured amount",
			calc: &FlatRate{Amount: d("7.50")},
			ord:  ord,
			want: d("7.50"),
		},
		{
			name: "flat rate clamps negative amount to zero",
			calc: &FlatRate{Amount: d("-3")},
			ord:  ord,
			want: decimal.Zero,
		},
		{
			name: "flat percent 10 percent of item total 50",
			calc: &FlatPercentItemTotal{Percent: d("10")},
			ord:  ord,
			want: d("5"),
		},
		{
			name: "flat percent rounds to two decimals",
			calc: &FlatPercentItemTotal{Percent: d("15")},
			ord:  &order.Order{ItemTotal: d("33.33")},
			want: d("5"), // 4.9995 rounds half-up
		},
		{
			name: "flexi rate picks highest covered tier",
			calc: &FlexiRate{
				Base: d("1"),
				Tiers: []Tier{
					{Threshold: d("20"), Amount: d("2")},
					{Threshold: d("50"), Amount: d("6")},
					{Threshold: d("100"), Amount: d("15")},
				},
			},
			ord:  ord,
			want: d("6"),
		},
		{
			name: "flexi rate falls back to base when no tier matches",
			calc: &FlexiRate{
				Base:  d("1"),
				Tiers: []Tier{{Threshold: d("100"), Amount: d("15")}},
			},
			ord:  ord,
			want: d("1"),
		},
		{
			name: "flexi rate threshold is inclusive",
			calc: &FlexiRate{
				Tiers: []Tier{{Threshold: d("50"), Amount: d("6")}},
			},
			ord:  ord,
			want: d("6"),
		},
		{
			name: "per item counts all items with empty product set",
			calc: &PerItem{Amount: d("1.50")},
			ord:  ord,
			want: d("7.50"), // 5 units
		},
		{
			name: "per item counts only matching products",
			calc: &PerItem{Amount: d("2"), ProductIDs: []string{"p2"}},
			ord:  ord,
			want: d("6"), // 3 units of p2
		},
		{
			name: "per item with no matching products",
			calc: &PerItem{Amount: d("2"), ProductIDs: []string{"p9"}},
			ord:  ord,
			want: decimal.Zero,
		},
		{
			name: "free shipping returns ship total not item total",
			calc: &FreeShipping{},
			ord:  ord,
			want: d("5"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.calc.Compute(tt.ord)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	ord := &order.Order{ItemTotal: d("123.45"), ShipTotal: d("9.99")}
	calc := &FlatPercentItemTotal{Percent: d("12.5")}

	first, err := calc.Compute(ord)
	require.NoError(t, err)
	second, err := calc.Compute(ord)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}
