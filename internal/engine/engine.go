// Package engine orchestrates promotion evaluation and activation for the
// checkout pipeline.
package engine

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const instrumentationName = "github.com/xenking/promo-engine/internal/engine"

// Applied reports one promotion that activated against an order.
type Applied struct {
	Promotion *promotion.Promotion
	Results   []promotion.ActionResult
}

// Engine selects candidate promotions for an order and event, filters them by
// eligibility, and activates the survivors. It holds no per-order state; all
// durable state lives in the promotion and order stores.
type Engine struct {
	promotions promotion.Repository
	orders     order.Repository
	codes      *CodeFilter

	tracer  trace.Tracer
	applied metric.Int64Counter
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithCodeFilter installs a coupon-code negative cache; coupon events carrying
// a code the filter rules out are discarded without listing promotions.
func WithCodeFilter(f *CodeFilter) Option {
	return func(e *Engine) { e.codes = f }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(instrumentationName) }
}

// New creates an Engine backed by the given stores.
func New(promotions promotion.Repository, orders order.Repository, opts ...Option) (*Engine, error) {
	e := &Engine{
		promotions: promotions,
		orders:     orders,
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	applied, err := otel.Meter(instrumentationName).Int64Counter("promotions.applied",
		metric.WithDescription("Number of promotion activations"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create applied counter")
	}
	e.applied = applied

	return e, nil
}

// Apply evaluates all promotions against the order for the given event and
// activates every eligible one. Ineligibility is not an error; evaluation and
// activation failures propagate to the caller, which owns the surrounding
// transaction. Apply is safe to re-run: the action layer deduplicates.
func (e *Engine) Apply(ctx context.Context, ord *order.Order, ev *promotion.Event) ([]Applied, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Apply",
		trace.WithAttributes(
			attribute.String("order.id", ord.ID),
			attribute.String("event.name", eventName(ev)),
		),
	)
	defer span.End()

	// A coupon submission with an unknown code cannot activate anything:
	// code-gated promotions will not match, and codeless promotions are
	// re-evaluated at every checkout stage anyway.
	if ev != nil && ev.Name == promotion.EventCouponCodeAdded && e.codes != nil {
		if code := ev.CouponCode(); code != "" && !e.codes.MayContain(code) {
			span.AddEvent("unknown coupon code")
			return nil, nil
		}
	}

	promos, err := e.promotions.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}

	var applied []Applied
	for _, p := range promos {
		ok, err := p.Eligible(ord, ev)
		if err != nil {
			return applied, errors.Wrapf(err, "evaluate promotion %s", p.ID)
		}
		if !ok {
			continue
		}

		results, err := p.Activate(ctx, ord)
		if err != nil {
			return applied, errors.Wrapf(err, "activate promotion %s", p.ID)
		}
		applied = append(applied, Applied{Promotion: p, Results: results})

		e.applied.Add(ctx, 1, metric.WithAttributes(
			attribute.String("promotion.name", p.Name),
		))
		zctx.From(ctx).Info("promotion activated",
			zap.String("order_id", ord.ID),
			zap.String("promotion_id", p.ID),
			zap.String("promotion", p.Name),
			zap.Int("actions", len(results)),
		)
	}

	return applied, nil
}

func eventName(ev *promotion.Event) string {
	if ev == nil {
		return ""
	}
	return ev.Name
}
