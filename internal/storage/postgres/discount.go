package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
)

const discountColumns = `id, title, discount_type, percent, amount, max_amount,
		for_items, for_cart, for_shipping, active, start_date, end_date,
		min_order_value, product_ids, category_ids, use_limit, uses, code, balance, created_at`

const (
	listActiveDiscountsSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE active ORDER BY created_at, id`

	getDiscountByCodeSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE code = $1`

	codeExistsSQL = `SELECT EXISTS (SELECT 1 FROM discounts WHERE code = $1)`

	listCodesSQL = `SELECT code FROM discounts WHERE code IS NOT NULL`

	createDiscountSQL = `INSERT INTO discounts (title, discount_type, percent, amount, max_amount,
		for_items, for_cart, for_shipping, active, start_date, end_date,
		min_order_value, product_ids, category_ids, use_limit, code, balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at`

	recordRedemptionSQL = `INSERT INTO order_discounts (order_id, discount_id, amount) VALUES ($1, $2, $3)`

	incrementUsesSQL = `UPDATE discounts SET uses = uses + 1
		WHERE id = $1 AND (use_limit = 0 OR uses < use_limit)`

	decrementBalanceSQL = `UPDATE discounts SET balance = balance - $2
		WHERE id = $1 AND balance >= $2`

	savingsTotalSQL = `SELECT COALESCE(SUM(amount), 0) FROM order_discounts WHERE discount_id = $1`

	savingsForOrderSQL = `SELECT COALESCE(SUM(amount), 0) FROM order_discounts
		WHERE discount_id = $1 AND order_id = $2`
)

var (
	_ discount.Store     = (*DiscountStore)(nil)
	_ discount.CodeStore = (*DiscountStore)(nil)
	_ discount.Ledger    = (*DiscountStore)(nil)
)

// DiscountStore implements the discount ports backed by PostgreSQL.
type DiscountStore struct {
	pool *pgxpool.Pool
}

// NewDiscountStore returns a DiscountStore that uses the given pool.
func NewDiscountStore(pool *pgxpool.Pool) *DiscountStore {
	return &DiscountStore{pool: pool}
}

// ListActive returns every active rule ordered by creation time.
func (s *DiscountStore) ListActive(ctx context.Context) ([]discount.Rule, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, listActiveDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	return rules, nil
}

// FindByCode looks up a coupon rule by its exact code, active or not.
// Returns discount.ErrNotFound when no rule carries the code.
func (s *DiscountStore) FindByCode(ctx context.Context, code string) (*discount.Rule, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	r, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &r, nil
}

// CodeExists reports whether any rule carries the code.
func (s *DiscountStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := conn(ctx, s.pool).QueryRow(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return exists, nil
}

// ListCodes returns every stored coupon code.
func (s *DiscountStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, listCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	return codes, nil
}

// Create inserts the rule and sets its ID and CreatedAt.
func (s *DiscountStore) Create(ctx context.Context, r *discount.Rule) error {
	var (
		code    *string
		balance decimal.NullDecimal
	)
	if r.Coupon != nil {
		code = &r.Coupon.Code
	}
	if r.Balance != nil {
		balance = decimal.NewNullDecimal(r.Balance.Remaining)
	}

	err := conn(ctx, s.pool).QueryRow(ctx, createDiscountSQL,
		r.Title, string(r.Type), r.Percent, r.Amount, r.MaxAmount,
		r.ForItems, r.ForCart, r.ForShipping, r.Active, r.StartDate, r.EndDate,
		r.MinOrderValue, nonNil(r.ProductIDs), nonNil(r.CategoryIDs), int32(r.UseLimit), code, balance,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating discount %q: %w", r.Title, err)
	}
	return nil
}

// ImportCoupons bulk-inserts one coupon rule per code, copying every other
// field from tmpl. It returns the number of rows written.
func (s *DiscountStore) ImportCoupons(ctx context.Context, tmpl discount.Rule, codes []string) (int64, error) {
	var balance decimal.NullDecimal
	if tmpl.Balance != nil {
		balance = decimal.NewNullDecimal(tmpl.Balance.Remaining)
	}

	columns := []string{
		"title", "discount_type", "percent", "amount", "max_amount",
		"for_items", "for_cart", "for_shipping", "active", "start_date", "end_date",
		"min_order_value", "product_ids", "category_ids", "use_limit", "code", "balance",
	}
	src := pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
		return []any{
			tmpl.Title, string(tmpl.Type), tmpl.Percent, tmpl.Amount, tmpl.MaxAmount,
			tmpl.ForItems, tmpl.ForCart, tmpl.ForShipping, tmpl.Active, tmpl.StartDate, tmpl.EndDate,
			tmpl.MinOrderValue, nonNil(tmpl.ProductIDs), nonNil(tmpl.CategoryIDs), int32(tmpl.UseLimit), codes[i], balance,
		}, nil
	})

	var n int64
	err := runInTx(ctx, s.pool, func(ctx context.Context) error {
		var err error
		n, err = conn(ctx, s.pool).(pgx.Tx).CopyFrom(ctx, pgx.Identifier{"discounts"}, columns, src)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("importing %d coupons: %w", len(codes), err)
	}
	return n, nil
}

// Redeem records the order's redemptions and updates the rule counters in
// one transaction. Limits are re-checked by the updates themselves, so a
// concurrent redemption that took the last use or the remaining balance
// fails with discount.ErrUsageLimitReached or discount.ErrBalanceExhausted.
func (s *DiscountStore) Redeem(ctx context.Context, orderID string, rs []discount.Redemption) error {
	return runInTx(ctx, s.pool, func(ctx context.Context) error {
		q := conn(ctx, s.pool)
		for _, r := range rs {
			if _, err := q.Exec(ctx, recordRedemptionSQL, orderID, r.RuleID, r.Amount); err != nil {
				return fmt.Errorf("recording redemption of discount %d: %w", r.RuleID, err)
			}

			tag, err := q.Exec(ctx, incrementUsesSQL, r.RuleID)
			if err != nil {
				return fmt.Errorf("incrementing uses of discount %d: %w", r.RuleID, err)
			}
			if tag.RowsAffected() == 0 {
				return errors.Wrapf(discount.ErrUsageLimitReached, "discount %d", r.RuleID)
			}

			if !r.DecrementBalance {
				continue
			}
			tag, err = q.Exec(ctx, decrementBalanceSQL, r.RuleID, r.Amount)
			if err != nil {
				return fmt.Errorf("decrementing balance of discount %d: %w", r.RuleID, err)
			}
			if tag.RowsAffected() == 0 {
				return errors.Wrapf(discount.ErrBalanceExhausted, "discount %d", r.RuleID)
			}
		}
		return nil
	})
}

// SavingsTotal returns the savings recorded against a rule across all orders.
func (s *DiscountStore) SavingsTotal(ctx context.Context, id int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := conn(ctx, s.pool).QueryRow(ctx, savingsTotalSQL, id).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing savings of discount %d: %w", id, err)
	}
	return total, nil
}

// SavingsForOrder returns the savings a rule granted on one order, zero when
// it did not apply.
func (s *DiscountStore) SavingsForOrder(ctx context.Context, id int64, orderID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := conn(ctx, s.pool).QueryRow(ctx, savingsForOrderSQL, id, orderID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing savings of discount %d on order %q: %w", id, orderID, err)
	}
	return total, nil
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		r        discount.Rule
		typ      string
		useLimit int32
		uses     int32
		code     *string
		balance  decimal.NullDecimal
		start    *time.Time
		end      *time.Time
	)
	err := row.Scan(
		&r.ID, &r.Title, &typ, &r.Percent, &r.Amount, &r.MaxAmount,
		&r.ForItems, &r.ForCart, &r.ForShipping, &r.Active, &start, &end,
		&r.MinOrderValue, &r.ProductIDs, &r.CategoryIDs, &useLimit, &uses, &code, &balance, &r.CreatedAt,
	)
	r.Type = discount.Type(typ)
	r.UseLimit = int(useLimit)
	r.Uses = int(uses)
	r.StartDate = start
	r.EndDate = end
	if code != nil {
		r.Coupon = &discount.Coupon{Code: *code}
	}
	if balance.Valid {
		r.Balance = &discount.Balance{Remaining: balance.Decimal}
	}
	return r, err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
