// Command promo-ingest bulk-loads promotion definitions into the promotion
// store. Definition files are JSON arrays of promotion configurations,
// optionally gzip-compressed.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appkg "github.com/xenking/promo-engine/internal/app"
	"github.com/xenking/promo-engine/internal/registry"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const (
	codeBloomCapacity = 1 << 20
	codeBloomFPR      = 0.001
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return run(ctx, lg, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, cfg *appkg.Config) error {
	files, err := filepath.Glob(filepath.Join(cfg.Ingest.Dir, cfg.Ingest.Pattern))
	if err != nil {
		return errors.Wrap(err, "glob definition files")
	}
	if len(files) == 0 {
		return errors.Errorf("no definition files matching %q in %s", cfg.Ingest.Pattern, cfg.Ingest.Dir)
	}

	lg.Info("decoding definition files", zap.Int("files", len(files)))

	perFile := make([][]registry.PromotionConfig, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			configs, err := decodeFile(gctx, f)
			if err != nil {
				return errors.Wrapf(err, "decode %s", f)
			}
			perFile[i] = configs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var configs []registry.PromotionConfig
	for _, fc := range perFile {
		configs = append(configs, fc...)
	}
	if err := checkDuplicateCodes(configs); err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	reg := registry.New()
	orders := postgres.NewOrderRepository(pool)
	promotions := postgres.NewPromotionRepository(pool, reg, orders)

	for _, res := range registry.RegisterDefaults(ctx, reg, promotions, lg) {
		if res.Status == registry.StatusSkipped {
			lg.Warn("type not registered",
				zap.String("kind", res.Kind),
				zap.String("name", res.Name),
				zap.String("reason", res.Reason),
			)
		}
	}

	// Validate everything before the first insert: a single bad definition
	// aborts the whole batch.
	for _, c := range configs {
		if err := reg.Validate(c); err != nil {
			return errors.Wrap(err, "validate promotion definition")
		}
	}

	for _, c := range configs {
		if err := promotions.Create(ctx, c); err != nil {
			return errors.Wrapf(err, "create promotion %q", c.Name)
		}
	}

	lg.Info("promotions ingested", zap.Int("count", len(configs)))
	return nil
}

// decodeFile reads one definition file, transparently decompressing .gz.
func decodeFile(ctx context.Context, path string) ([]registry.PromotionConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer gz.Close()
		r = gz
	}

	var configs []registry.PromotionConfig
	if err := json.NewDecoder(r).Decode(&configs); err != nil {
		return nil, errors.Wrap(err, "decode JSON")
	}
	return configs, nil
}

// checkDuplicateCodes rejects batches where two promotions share a coupon
// code. The bloom filter keeps the common case to a single membership test;
// the exact set is only consulted on filter hits to rule out false positives.
func checkDuplicateCodes(configs []registry.PromotionConfig) error {
	filter := bloom.NewWithEstimates(codeBloomCapacity, codeBloomFPR)
	seen := make(map[string]struct{})

	for _, c := range configs {
		if c.Code == "" {
			continue
		}
		if filter.TestAndAddString(c.Code) {
			if _, ok := seen[c.Code]; ok {
				return errors.Errorf("duplicate coupon code %q in promotion %q", c.Code, c.Name)
			}
		}
		seen[c.Code] = struct{}{}
	}
	return nil
}
