package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/registry"
)

var (
	_ promotion.Repository     = (*PromotionRepository)(nil)
	_ registry.CalculatorProbe = (*PromotionRepository)(nil)
)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Stored rule/action configurations are assembled into domain objects through
// the registry, so an unknown type surfaces as a load error instead of a
// silently skipped discount.
type PromotionRepository struct {
	pool   *pgxpool.Pool
	reg    *registry.Registry
	orders order.Repository
}

// NewPromotionRepository returns a PromotionRepository that builds promotions
// via the given registry and wires the order repository into their actions.
func NewPromotionRepository(pool *pgxpool.Pool, reg *registry.Registry, orders order.Repository) *PromotionRepository {
	return &PromotionRepository{pool: pool, reg: reg, orders: orders}
}

// List loads all promotions with their configured rules and actions.
func (r *PromotionRepository) List(ctx context.Context) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, code, event_name, starts_at, expires_at,
		       usage_limit, credits_count, match_policy
		FROM promotions
		ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query promotions")
	}
	defer rows.Close()

	type row struct {
		cfg     registry.PromotionConfig
		credits int
	}
	var loaded []row
	for rows.Next() {
		var rec row
		if err := rows.Scan(
			&rec.cfg.ID, &rec.cfg.Name, &rec.cfg.Code, &rec.cfg.EventName,
			&rec.cfg.StartsAt, &rec.cfg.ExpiresAt,
			&rec.cfg.UsageLimit, &rec.credits, &rec.cfg.MatchPolicy,
		); err != nil {
			return nil, errors.Wrap(err, "scan promotion")
		}
		loaded = append(loaded, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate promotions")
	}

	deps := registry.ActionDeps{Orders: r.orders, Promotions: r}
	promos := make([]*promotion.Promotion, 0, len(loaded))
	for i := range loaded {
		cfg := &loaded[i].cfg
		if err := r.loadRules(ctx, cfg); err != nil {
			return nil, err
		}
		if err := r.loadActions(ctx, cfg); err != nil {
			return nil, err
		}

		p, err := r.reg.BuildPromotion(*cfg, deps)
		if err != nil {
			return nil, errors.Wrapf(err, "build promotion %s", cfg.ID)
		}
		p.CreditsCount = loaded[i].credits
		promos = append(promos, p)
	}

	return promos, nil
}

func (r *PromotionRepository) loadRules(ctx context.Context, cfg *registry.PromotionConfig) error {
	rows, err := r.pool.Query(ctx, `
		SELECT rule_type, params
		FROM promotion_rules
		WHERE promotion_id = $1
		ORDER BY position, id`, cfg.ID)
	if err != nil {
		return errors.Wrapf(err, "query rules for promotion %s", cfg.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var rc registry.RuleConfig
		if err := rows.Scan(&rc.Type, &rc.Params); err != nil {
			return errors.Wrap(err, "scan promotion rule")
		}
		cfg.Rules = append(cfg.Rules, rc)
	}
	return errors.Wrap(rows.Err(), "iterate promotion rules")
}

func (r *PromotionRepository) loadActions(ctx context.Context, cfg *registry.PromotionConfig) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, action_type, params, calculator_type, calculator_params
		FROM promotion_actions
		WHERE promotion_id = $1
		ORDER BY position, id`, cfg.ID)
	if err != nil {
		return errors.Wrapf(err, "query actions for promotion %s", cfg.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ac         registry.ActionConfig
			calcType   string
			calcParams json.RawMessage
		)
		if err := rows.Scan(&ac.ID, &ac.Type, &ac.Params, &calcType, &calcParams); err != nil {
			return errors.Wrap(err, "scan promotion action")
		}
		if calcType != "" {
			ac.Calculator = &registry.CalculatorConfig{Type: calcType, Params: calcParams}
		}
		cfg.Actions = append(cfg.Actions, ac)
	}
	return errors.Wrap(rows.Err(), "iterate promotion actions")
}

// IncrementCredits atomically bumps the promotion's credited-count.
func (r *PromotionRepository) IncrementCredits(ctx context.Context, promotionID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE promotions SET credits_count = credits_count + 1
		WHERE id = $1`, promotionID)
	if err != nil {
		return errors.Wrapf(err, "increment credits for promotion %s", promotionID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("promotion %s not found", promotionID)
	}
	return nil
}

// ListCodes returns every configured coupon code.
func (r *PromotionRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM promotions WHERE code <> ''`)
	if err != nil {
		return nil, errors.Wrap(err, "query promotion codes")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan promotion code")
		}
		codes = append(codes, code)
	}
	return codes, errors.Wrap(rows.Err(), "iterate promotion codes")
}

// CalculatorAvailable reports whether the calculator settings table backing
// the given type is provisioned.
func (r *PromotionRepository) CalculatorAvailable(ctx context.Context, _ string) (bool, error) {
	var available bool
	err := r.pool.QueryRow(ctx,
		`SELECT to_regclass('calculator_settings') IS NOT NULL`,
	).Scan(&available)
	if err != nil {
		return false, errors.Wrap(err, "probe calculator settings")
	}
	return available, nil
}

// Create persists a promotion configuration with its rules and actions in one
// transaction. The configuration must already be validated against the
// registry.
func (r *PromotionRepository) Create(ctx context.Context, cfg registry.PromotionConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	matchPolicy := cfg.MatchPolicy
	if matchPolicy == "" {
		matchPolicy = string(promotion.MatchAll)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO promotions (id, name, code, event_name, starts_at, expires_at, usage_limit, match_policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.ID, cfg.Name, cfg.Code, cfg.EventName,
		cfg.StartsAt, cfg.ExpiresAt, cfg.UsageLimit, matchPolicy,
	)
	if err != nil {
		return errors.Wrapf(err, "insert promotion %q", cfg.Name)
	}

	for i, rc := range cfg.Rules {
		_, err = tx.Exec(ctx, `
			INSERT INTO promotion_rules (id, promotion_id, position, rule_type, params)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), cfg.ID, i, rc.Type, jsonParams(rc.Params),
		)
		if err != nil {
			return errors.Wrapf(err, "insert rule %q for promotion %q", rc.Type, cfg.Name)
		}
	}

	for i, ac := range cfg.Actions {
		actionID := ac.ID
		if actionID == "" {
			actionID = uuid.New().String()
		}
		calcType := ""
		calcParams := json.RawMessage("{}")
		if ac.Calculator != nil {
			calcType = ac.Calculator.Type
			calcParams = jsonParams(ac.Calculator.Params)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO promotion_actions (id, promotion_id, position, action_type, params, calculator_type, calculator_params)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			actionID, cfg.ID, i, ac.Type, jsonParams(ac.Params), calcType, calcParams,
		)
		if err != nil {
			return errors.Wrapf(err, "insert action %q for promotion %q", ac.Type, cfg.Name)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func jsonParams(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
