package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/order"
)

// MatchPolicy controls how a promotion's rule set is combined.
type MatchPolicy string

const (
	// MatchAll requires every rule to be eligible.
	MatchAll MatchPolicy = "all"
	// MatchAny requires at least one rule to be eligible.
	MatchAny MatchPolicy = "any"
)

// Outcome reports what an action did to the order.
type Outcome string

const (
	// OutcomeApplied means the action mutated the order.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyApplied means the order already carried the action's
	// mutation and nothing was changed.
	OutcomeAlreadyApplied Outcome = "already_applied"
)

// Rule is a side-effect-free predicate over an order and an optional event.
// Evaluation errors propagate; they are never masked as ineligibility.
type Rule interface {
	Eligible(ord *order.Order, ev *Event) (bool, error)
}

// Action is a mutation applied to an order when a promotion activates.
// Implementations must be idempotent per (promotion, order).
type Action interface {
	ID() string
	Perform(ctx context.Context, ord *order.Order) (Outcome, error)
}

// ActionResult pairs an action with the outcome of its Perform call.
type ActionResult struct {
	ActionID string
	Outcome  Outcome
}

// Promotion is a named, time- and usage-bounded rule set that triggers
// discount or bonus actions on an order. It is read-only during evaluation;
// only CreditsCount (loaded from the store) changes between evaluations.
type Promotion struct {
	ID        string
	Name      string
	Code      string
	EventName string

	StartsAt  *time.Time
	ExpiresAt *time.Time

	// UsageLimit caps total successful credits across all orders; 0 means
	// unlimited. CreditsCount is the snapshot of credits granted so far.
	UsageLimit   int
	CreditsCount int

	MatchPolicy MatchPolicy

	Rules   []Rule
	Actions []Action

	// Now overrides the evaluation clock; nil means time.Now.
	Now func() time.Time
}

// Label returns the human-readable adjustment label for this promotion.
func (p *Promotion) Label() string {
	return "Promotion (" + p.Name + ")"
}

// Expired reports whether the promotion is unusable at the given instant:
// its usage limit is exhausted, it has not started yet, or it has ended.
// Both window bounds are inclusive.
func (p *Promotion) Expired(now time.Time) bool {
	if p.UsageLimit > 0 && p.CreditsCount >= p.UsageLimit {
		return true
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return true
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return true
	}
	return false
}

// Eligible reports whether the promotion applies to the order for the given
// event. It is read-only and safe to call repeatedly.
//
// A promotion bound to an event is only eligible when that event fires with a
// matching coupon code. The one exception: once a coupon already produced a
// credit on this order, the promotion keeps reporting eligible on later
// evaluations for the same order. The action layer deduplicates, so
// re-activation cannot double-apply.
func (p *Promotion) Eligible(ord *order.Order, ev *Event) (bool, error) {
	if p.Expired(p.now()) {
		return false, nil
	}
	if p.EventName != "" && !p.eventMatches(ev) && ord.PromotionCredit(p.ID) == nil {
		return false, nil
	}
	return p.RulesEligible(ord, ev)
}

// RulesEligible combines the rule set under the match policy. An empty rule
// set is eligible under both policies: no rules means unrestricted.
func (p *Promotion) RulesEligible(ord *order.Order, ev *Event) (bool, error) {
	if len(p.Rules) == 0 {
		return true, nil
	}

	switch p.MatchPolicy {
	case MatchAny:
		for _, r := range p.Rules {
			ok, err := r.Eligible(ord, ev)
			if err != nil {
				return false, errors.Wrap(err, "evaluate rule")
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default: // MatchAll and unset
		for _, r := range p.Rules {
			ok, err := r.Eligible(ord, ev)
			if err != nil {
				return false, errors.Wrap(err, "evaluate rule")
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// Activate performs the promotion's actions against the order in declaration
// order. It must only be called after Eligible returned true. The first action
// error aborts the sequence and propagates; completed results are returned
// alongside it.
func (p *Promotion) Activate(ctx context.Context, ord *order.Order) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(p.Actions))
	for _, a := range p.Actions {
		outcome, err := a.Perform(ctx, ord)
		if err != nil {
			return results, errors.Wrapf(err, "perform action %s", a.ID())
		}
		results = append(results, ActionResult{ActionID: a.ID(), Outcome: outcome})
	}
	return results, nil
}

func (p *Promotion) eventMatches(ev *Event) bool {
	if ev == nil || ev.Name != p.EventName {
		return false
	}
	if p.Code != "" && ev.CouponCode() != p.Code {
		return false
	}
	return true
}

func (p *Promotion) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Repository defines the persistence operations the engine needs on
// promotions. IncrementCredits must be atomic.
type Repository interface {
	List(ctx context.Context) ([]*Promotion, error)
	IncrementCredits(ctx context.Context, promotionID string) error
	ListCodes(ctx context.Context) ([]string, error)
}
