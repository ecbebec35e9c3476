package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/storage/postgres"
)

// options holds the parsed command line.
type options struct {
	databaseURL string

	// generate mode
	count  int
	length int
	prefix string

	// import mode
	files    []string
	minFiles int

	minCodeLen int
	template   discount.Rule
}

func main() {
	var (
		opts      options
		files     string
		typ       string
		percent   string
		amount    string
		maxAmount string
		minOrder  string
		balance   string
		endDate   string
		shipping  bool
	)

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.count, "count", 0, "number of codes to generate")
	flag.IntVar(&opts.length, "length", discount.DefaultCodeLength, "random characters per generated code")
	flag.StringVar(&opts.prefix, "prefix", "", "fixed prefix of generated codes")
	flag.StringVar(&files, "files", "", "comma-separated gzip code lists to import instead of generating")
	flag.IntVar(&opts.minFiles, "min-files", 1, "import only codes listed in at least this many files")
	flag.IntVar(&opts.minCodeLen, "min-code-length", 4, "reject codes shorter than this")

	flag.StringVar(&opts.template.Title, "title", "", "discount title")
	flag.StringVar(&typ, "type", string(discount.TypePercent), "discount type: percent or amount")
	flag.StringVar(&percent, "percent", "0", "fraction off for percent discounts, e.g. 0.15")
	flag.StringVar(&amount, "amount", "0", "amount off for amount discounts")
	flag.StringVar(&maxAmount, "max-amount", "0", "cap on the discount, 0 for none")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order subtotal, 0 for none")
	flag.StringVar(&balance, "balance", "", "stored value for partial-use codes; empty for plain coupons")
	flag.StringVar(&endDate, "end-date", "", "RFC 3339 expiry, empty for none")
	flag.IntVar(&opts.template.UseLimit, "use-limit", 1, "redemptions per code, 0 for unlimited")
	flag.BoolVar(&shipping, "shipping", false, "discount shipping instead of items and cart")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if files != "" {
		opts.files = strings.Split(files, ",")
	}

	if err := opts.parseTemplate(typ, percent, amount, maxAmount, minOrder, balance, endDate, shipping); err != nil {
		slog.Error("invalid flags", slog.String("error", err.Error()))
		os.Exit(2)
	}
	if err := opts.validate(); err != nil {
		slog.Error("invalid flags", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon generation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon generation completed successfully")
}

func (o *options) parseTemplate(typ, percent, amount, maxAmount, minOrder, balance, endDate string, shipping bool) error {
	t := discount.NewRule(o.template.Title, discount.Type(typ))
	t.UseLimit = o.template.UseLimit
	if shipping {
		t.ForItems, t.ForCart, t.ForShipping = false, false, true
	}

	for _, f := range []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"percent", percent, &t.Percent},
		{"amount", amount, &t.Amount},
		{"max-amount", maxAmount, &t.MaxAmount},
		{"min-order", minOrder, &t.MinOrderValue},
	} {
		v, err := decimal.NewFromString(f.in)
		if err != nil {
			return errors.Wrapf(err, "parse -%s", f.name)
		}
		*f.out = v
	}

	if balance != "" {
		v, err := decimal.NewFromString(balance)
		if err != nil {
			return errors.Wrap(err, "parse -balance")
		}
		t.Balance = &discount.Balance{Remaining: v}
	}
	if endDate != "" {
		end, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			return errors.Wrap(err, "parse -end-date")
		}
		t.EndDate = &end
	}

	o.template = t
	return nil
}

func (o *options) validate() error {
	if o.databaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	if o.template.Title == "" {
		return errors.New("-title is required")
	}
	if len(o.files) == 0 && o.count <= 0 {
		return errors.New("set -count to generate codes or -files to import them")
	}
	if len(o.files) > 0 && (o.minFiles < 1 || o.minFiles > len(o.files)) {
		return errors.Errorf("-min-files must be between 1 and %d", len(o.files))
	}

	// Checked with a placeholder code so only the shared fields are judged.
	sample := o.template
	sample.Coupon = &discount.Coupon{Code: strings.Repeat("X", max(o.minCodeLen, 1))}
	if err := sample.Check(o.minCodeLen); err != nil {
		return errors.Wrap(err, "discount template")
	}
	return nil
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewDiscountStore(pool)

	var codes []string
	if len(opts.files) > 0 {
		codes, err = collectCodes(ctx, store, opts.files, opts.minFiles, opts.minCodeLen)
	} else {
		codes, err = generateCodes(ctx, store, opts.count, opts.length, opts.prefix)
	}
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		slog.Info("no codes to insert")
		return nil
	}

	slog.Info("writing coupons to database", slog.Int("count", len(codes)))
	n, err := store.ImportCoupons(ctx, opts.template, codes)
	if err != nil {
		return errors.Wrap(err, "write coupons to database")
	}
	slog.Info("coupons written", slog.Int64("rows", n))
	return nil
}
