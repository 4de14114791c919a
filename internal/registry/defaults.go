package registry

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/actions"
	"github.com/xenking/promo-engine/internal/calculator"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/rules"
)

// Built-in type names.
const (
	RuleItemTotal   = "item_total"
	RuleProduct     = "product"
	RuleUser        = "user"
	RuleFirstOrder  = "first_order"
	RuleLandingPage = "landing_page"

	ActionCreateAdjustment = "create_adjustment"
	ActionCreateLineItems  = "create_line_items"

	CalculatorFlatRate             = "flat_rate"
	CalculatorFlatPercentItemTotal = "flat_percent_item_total"
	CalculatorFlexiRate            = "flexi_rate"
	CalculatorPerItem              = "per_item"
	CalculatorFreeShipping         = "free_shipping"
)

// CalculatorProbe answers whether a calculator type's backing configuration is
// provisioned. A nil probe means every calculator is available.
type CalculatorProbe interface {
	CalculatorAvailable(ctx context.Context, typeName string) (bool, error)
}

// RegisterDefaults populates the registry with the built-in rule, action, and
// calculator types. Registration is idempotent and never aborts: a calculator
// whose backing configuration is not provisioned is skipped with a log line
// and reported in the results, and the rest continue.
func RegisterDefaults(ctx context.Context, r *Registry, probe CalculatorProbe, lg *zap.Logger) []Result {
	if lg == nil {
		lg = zap.NewNop()
	}

	results := []Result{
		r.RegisterRule(RuleItemTotal, decodeRule[rules.ItemTotal]()),
		r.RegisterRule(RuleProduct, decodeRule[rules.Product]()),
		r.RegisterRule(RuleUser, decodeRule[rules.User]()),
		r.RegisterRule(RuleFirstOrder, decodeRule[rules.FirstOrder]()),
		r.RegisterRule(RuleLandingPage, decodeRule[rules.LandingPage]()),

		r.RegisterAction(ActionCreateAdjustment, newCreateAdjustment),
		r.RegisterAction(ActionCreateLineItems, newCreateLineItems),
	}

	calculators := []struct {
		name string
		f    CalculatorFactory
	}{
		{CalculatorFlatRate, decodeCalculator[calculator.FlatRate]()},
		{CalculatorFlatPercentItemTotal, decodeCalculator[calculator.FlatPercentItemTotal]()},
		{CalculatorFlexiRate, decodeCalculator[calculator.FlexiRate]()},
		{CalculatorPerItem, decodeCalculator[calculator.PerItem]()},
		{CalculatorFreeShipping, decodeCalculator[calculator.FreeShipping]()},
	}
	for _, c := range calculators {
		if probe != nil {
			ok, err := probe.CalculatorAvailable(ctx, c.name)
			if err != nil || !ok {
				reason := "backing configuration not provisioned"
				if err != nil {
					reason = err.Error()
				}
				lg.Warn("skipping calculator registration",
					zap.String("calculator", c.name),
					zap.String("reason", reason),
				)
				results = append(results, Result{
					Kind:   "calculator",
					Name:   c.name,
					Status: StatusSkipped,
					Reason: reason,
				})
				continue
			}
		}
		results = append(results, r.RegisterCalculator(c.name, c.f))
	}

	return results
}

// decodeRule builds a RuleFactory that unmarshals parameters into R.
func decodeRule[R any, PR interface {
	*R
	promotion.Rule
}]() RuleFactory {
	return func(params json.RawMessage) (promotion.Rule, error) {
		rule := PR(new(R))
		if err := json.Unmarshal(params, rule); err != nil {
			return nil, errors.Wrap(err, "decode rule params")
		}
		return rule, nil
	}
}

// decodeCalculator builds a CalculatorFactory that unmarshals parameters into C.
func decodeCalculator[C any, PC interface {
	*C
	calculator.Calculator
}]() CalculatorFactory {
	return func(params json.RawMessage) (calculator.Calculator, error) {
		calc := PC(new(C))
		if err := json.Unmarshal(params, calc); err != nil {
			return nil, errors.Wrap(err, "decode calculator params")
		}
		return calc, nil
	}
}

func newCreateAdjustment(deps ActionDeps, owner ActionOwner, _ json.RawMessage, calc calculator.Calculator) (promotion.Action, error) {
	if calc == nil {
		return nil, errors.New("create_adjustment requires a calculator")
	}
	return &actions.CreateAdjustment{
		ActionID:    actionID(owner),
		PromotionID: owner.PromotionID,
		Label:       "Promotion (" + owner.PromotionName + ")",
		Calculator:  calc,
		Orders:      deps.Orders,
		Promotions:  deps.Promotions,
	}, nil
}

type createLineItemsParams struct {
	Items []actions.BonusItem `json:"items"`
}

func newCreateLineItems(deps ActionDeps, owner ActionOwner, params json.RawMessage, _ calculator.Calculator) (promotion.Action, error) {
	var p createLineItemsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Wrap(err, "decode line item params")
	}
	for _, item := range p.Items {
		if item.ProductID == "" {
			return nil, errors.New("bonus item product_id is required")
		}
		if item.Quantity <= 0 {
			return nil, errors.Errorf("bonus item %s: quantity must be greater than 0", item.ProductID)
		}
	}
	return &actions.CreateLineItems{
		ActionID:    actionID(owner),
		PromotionID: owner.PromotionID,
		Items:       p.Items,
		Orders:      deps.Orders,
	}, nil
}

func actionID(owner ActionOwner) string {
	if owner.ActionID != "" {
		return owner.ActionID
	}
	return uuid.New().String()
}
