package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/storage/postgres"
)

func main() {
	var (
		databaseURL   string
		productsFile  string
		discountsFile string
		codes         codePolicy
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&discountsFile, "discounts-file", "db/seed/discounts.json", "path to discount rules JSON file; empty skips rules")
	flag.IntVar(&codes.MinLength, "min-code-length", 4, "refuse coupon rules with shorter codes; match the API's coupon-min-length")
	flag.IntVar(&codes.Length, "code-length", 8, "length of codes generated for coupon rules seeded without one")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, discountsFile, codes); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, discountsFile string, codes codePolicy) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if discountsFile != "" {
		if err := seedDiscounts(ctx, postgres.NewDiscountStore(pool), discountsFile, codes); err != nil {
			return errors.Wrap(err, "seed discounts")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, path string) error {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	products, err := decodeProducts(data)
	if err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))
	if err := repo.Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

// ruleStore is the subset of the discount store the seeder writes through.
type ruleStore interface {
	discount.CodeStore
	ListActive(ctx context.Context) ([]discount.Rule, error)
	Create(ctx context.Context, r *discount.Rule) error
}

// codePolicy bounds the coupon codes the seeder accepts and issues.
type codePolicy struct {
	MinLength int
	Length    int
}

// seedDiscounts inserts the rules in path. Coupon rules seeded with an empty
// code get a generated one. Rules whose code is already stored, and
// automatic rules whose title is already active, are skipped so the seeder
// can be rerun.
func seedDiscounts(ctx context.Context, store ruleStore, path string, codes codePolicy) error {
	slog.Info("reading discounts file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read discounts file")
	}
	rules, err := decodeRules(data)
	if err != nil {
		return errors.Wrap(err, "parse discounts JSON")
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list active discounts")
	}
	titles := make(map[string]struct{}, len(active))
	for _, r := range active {
		if r.Coupon == nil {
			titles[r.Title] = struct{}{}
		}
	}

	var gen *discount.CodeGenerator
	for i := range rules {
		r := &rules[i]
		if r.Coupon != nil && r.Coupon.Code == "" {
			if gen == nil {
				if gen, err = discount.NewCodeGenerator(ctx, store); err != nil {
					return errors.Wrap(err, "init code generator")
				}
			}
			code, err := gen.Generate(ctx, codes.Length, "")
			if err != nil {
				return errors.Wrapf(err, "generate code for %q", r.Title)
			}
			r.Coupon.Code = code
			slog.Info("generated coupon code", slog.String("title", r.Title), slog.String("code", code))
		}
		if err := r.Check(codes.MinLength); err != nil {
			return errors.Wrapf(err, "discount %q", r.Title)
		}

		if code := r.Code(); code != "" {
			exists, err := store.CodeExists(ctx, code)
			if err != nil {
				return errors.Wrapf(err, "check code %s", code)
			}
			if exists {
				slog.Info("skipped existing coupon", slog.String("code", code))
				continue
			}
		} else if _, ok := titles[r.Title]; ok {
			slog.Info("skipped existing discount", slog.String("title", r.Title))
			continue
		}

		if err := store.Create(ctx, r); err != nil {
			return errors.Wrapf(err, "create discount %q", r.Title)
		}
		slog.Info("created discount",
			slog.Int64("id", r.ID),
			slog.String("title", r.Title),
			slog.String("kind", string(r.Kind())),
		)
	}
	return nil
}
