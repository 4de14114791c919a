// Package registry holds the process-wide lookup of promotion rule, action,
// and calculator types. It is populated once at startup and read-only
// afterwards.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/calculator"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// Status classifies the outcome of a single registration attempt.
type Status string

const (
	// StatusRegistered means the type was added to the registry.
	StatusRegistered Status = "registered"
	// StatusAlreadyRegistered means the type name was present; re-registering
	// is a no-op, not an error.
	StatusAlreadyRegistered Status = "already_registered"
	// StatusSkipped means the type was deliberately not registered, e.g. a
	// calculator whose backing configuration is not provisioned yet.
	StatusSkipped Status = "skipped"
)

// Result describes one registration attempt.
type Result struct {
	Kind   string
	Name   string
	Status Status
	Reason string
}

// ActionDeps carries the collaborators injected into built actions.
type ActionDeps struct {
	Orders     order.Repository
	Promotions promotion.Repository
}

// ActionOwner identifies the configured action instance and its promotion.
type ActionOwner struct {
	ActionID      string
	PromotionID   string
	PromotionName string
}

// Factories build configured instances from their JSON parameters.
type (
	RuleFactory       func(params json.RawMessage) (promotion.Rule, error)
	CalculatorFactory func(params json.RawMessage) (calculator.Calculator, error)
	ActionFactory     func(deps ActionDeps, owner ActionOwner, params json.RawMessage, calc calculator.Calculator) (promotion.Action, error)
)

// Registry maps type names to factories for the three promotion roles.
type Registry struct {
	mu          sync.RWMutex
	rules       map[string]RuleFactory
	actions     map[string]ActionFactory
	calculators map[string]CalculatorFactory
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		rules:       make(map[string]RuleFactory),
		actions:     make(map[string]ActionFactory),
		calculators: make(map[string]CalculatorFactory),
	}
}

// RegisterRule adds a rule factory under the given type name.
func (r *Registry) RegisterRule(name string, f RuleFactory) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[name]; ok {
		return Result{Kind: "rule", Name: name, Status: StatusAlreadyRegistered}
	}
	r.rules[name] = f
	return Result{Kind: "rule", Name: name, Status: StatusRegistered}
}

// RegisterAction adds an action factory under the given type name.
func (r *Registry) RegisterAction(name string, f ActionFactory) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; ok {
		return Result{Kind: "action", Name: name, Status: StatusAlreadyRegistered}
	}
	r.actions[name] = f
	return Result{Kind: "action", Name: name, Status: StatusRegistered}
}

// RegisterCalculator adds a calculator factory under the given type name.
func (r *Registry) RegisterCalculator(name string, f CalculatorFactory) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calculators[name]; ok {
		return Result{Kind: "calculator", Name: name, Status: StatusAlreadyRegistered}
	}
	r.calculators[name] = f
	return Result{Kind: "calculator", Name: name, Status: StatusRegistered}
}

// BuildRule instantiates a configured rule. Referencing an unknown type is a
// configuration error and fails fast.
func (r *Registry) BuildRule(cfg RuleConfig) (promotion.Rule, error) {
	r.mu.RLock()
	f, ok := r.rules[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown promotion rule type %q", cfg.Type)
	}
	rule, err := f(params(cfg.Params))
	if err != nil {
		return nil, errors.Wrapf(err, "build rule %q", cfg.Type)
	}
	return rule, nil
}

// BuildCalculator instantiates a configured calculator.
func (r *Registry) BuildCalculator(cfg CalculatorConfig) (calculator.Calculator, error) {
	r.mu.RLock()
	f, ok := r.calculators[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown calculator type %q", cfg.Type)
	}
	calc, err := f(params(cfg.Params))
	if err != nil {
		return nil, errors.Wrapf(err, "build calculator %q", cfg.Type)
	}
	return calc, nil
}

// BuildAction instantiates a configured action, building its calculator first
// when one is configured.
func (r *Registry) BuildAction(cfg ActionConfig, deps ActionDeps, owner ActionOwner) (promotion.Action, error) {
	r.mu.RLock()
	f, ok := r.actions[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown promotion action type %q", cfg.Type)
	}

	var calc calculator.Calculator
	if cfg.Calculator != nil {
		var err error
		calc, err = r.BuildCalculator(*cfg.Calculator)
		if err != nil {
			return nil, err
		}
	}

	action, err := f(deps, owner, params(cfg.Params), calc)
	if err != nil {
		return nil, errors.Wrapf(err, "build action %q", cfg.Type)
	}
	return action, nil
}

// params normalizes absent JSON parameters to an empty object.
func params(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
