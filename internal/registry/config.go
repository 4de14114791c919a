package registry

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// RuleConfig references a registered rule type with its parameters.
type RuleConfig struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CalculatorConfig references a registered calculator type with its parameters.
type CalculatorConfig struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ActionConfig references a registered action type with its parameters and an
// optional owned calculator.
type ActionConfig struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Params     json.RawMessage   `json:"params,omitempty"`
	Calculator *CalculatorConfig `json:"calculator,omitempty"`
}

// PromotionConfig is the storable form of a promotion: everything needed to
// assemble a promotion.Promotion through the registry.
type PromotionConfig struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Code        string         `json:"code,omitempty"`
	EventName   string         `json:"event_name,omitempty"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	UsageLimit  int            `json:"usage_limit,omitempty"`
	MatchPolicy string         `json:"match_policy,omitempty"`
	Rules       []RuleConfig   `json:"rules,omitempty"`
	Actions     []ActionConfig `json:"actions,omitempty"`
}

// Validate checks the configuration against the registry without building
// anything: unknown types and unparsable parameters are reported up front so
// a bad promotion never silently produces wrong discounts.
func (r *Registry) Validate(cfg PromotionConfig) error {
	if cfg.Name == "" {
		return errors.New("promotion name is required")
	}
	switch promotion.MatchPolicy(cfg.MatchPolicy) {
	case promotion.MatchAll, promotion.MatchAny, "":
	default:
		return errors.Errorf("unknown match policy %q", cfg.MatchPolicy)
	}
	for _, rc := range cfg.Rules {
		if _, err := r.BuildRule(rc); err != nil {
			return errors.Wrapf(err, "promotion %q", cfg.Name)
		}
	}
	deps := ActionDeps{}
	for _, ac := range cfg.Actions {
		if _, err := r.BuildAction(ac, deps, ActionOwner{PromotionID: cfg.ID, PromotionName: cfg.Name}); err != nil {
			return errors.Wrapf(err, "promotion %q", cfg.Name)
		}
	}
	return nil
}

// BuildPromotion assembles a promotion.Promotion from its stored
// configuration, wiring the given collaborators into its actions.
func (r *Registry) BuildPromotion(cfg PromotionConfig, deps ActionDeps) (*promotion.Promotion, error) {
	p := &promotion.Promotion{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Code:        cfg.Code,
		EventName:   cfg.EventName,
		StartsAt:    cfg.StartsAt,
		ExpiresAt:   cfg.ExpiresAt,
		UsageLimit:  cfg.UsageLimit,
		MatchPolicy: promotion.MatchPolicy(cfg.MatchPolicy),
	}
	if p.MatchPolicy == "" {
		p.MatchPolicy = promotion.MatchAll
	}

	for _, rc := range cfg.Rules {
		rule, err := r.BuildRule(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q", cfg.Name)
		}
		p.Rules = append(p.Rules, rule)
	}

	for _, ac := range cfg.Actions {
		owner := ActionOwner{
			ActionID:      ac.ID,
			PromotionID:   cfg.ID,
			PromotionName: cfg.Name,
		}
		action, err := r.BuildAction(ac, deps, owner)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q", cfg.Name)
		}
		p.Actions = append(p.Actions, action)
	}

	return p, nil
}
