package order

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidShipping = errors.New("shipping must not be negative")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Request is a cart submitted for quoting or placement.
type Request struct {
	Items      []Item
	CouponCode string
	Shipping   decimal.Decimal
}

// Quote is the priced cart. Money fields are rounded to cents.
type Quote struct {
	Subtotal  decimal.Decimal
	Shipping  decimal.Decimal
	Discounts decimal.Decimal
	Total     decimal.Decimal
	Applied   []AppliedDiscount
	Products  []product.Product

	redemptions []discount.Redemption
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// Deps are the collaborators of a Service. Products, Discounts and Orders
// are required.
type Deps struct {
	Products   product.Repository
	Discounts  discount.Store
	Ledger     discount.Ledger
	Orders     Repository
	UnitOfWork UnitOfWork

	// MinCodeLength refuses coupon rules with shorter codes.
	MinCodeLength int
	Clock         func() time.Time
	NewID         func() string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service prices carts against the active discount rules and places orders.
type Service struct {
	products  product.Repository
	discounts discount.Store
	ledger    discount.Ledger
	orders    Repository
	uow       UnitOfWork

	matcherOpts []discount.MatcherOption
	minCodeLen  int
	now         func() time.Time
	newID       func() string

	tracer  trace.Tracer
	quotes  metric.Int64Counter
	placed  metric.Int64Counter
	savings metric.Float64Counter
}

// NewService creates an order Service from its dependencies.
func NewService(deps Deps) (*Service, error) {
	if deps.Products == nil || deps.Discounts == nil || deps.Orders == nil {
		return nil, errors.New("products, discounts and orders are required")
	}
	s := &Service{
		products:   deps.Products,
		discounts:  deps.Discounts,
		ledger:     deps.Ledger,
		orders:     deps.Orders,
		uow:        deps.UnitOfWork,
		minCodeLen: deps.MinCodeLength,
		now:        deps.Clock,
		newID:      deps.NewID,
	}
	if s.uow == nil {
		s.uow = noopUnitOfWork{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	s.matcherOpts = []discount.MatcherOption{
		discount.WithMinCodeLength(s.minCodeLen),
		discount.WithClock(s.now),
	}

	tp := deps.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	mp := deps.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	s.tracer = tp.Tracer("discounts/order")
	meter := mp.Meter("discounts/order")

	var err error
	if s.quotes, err = meter.Int64Counter("discounts.quotes",
		metric.WithDescription("Carts priced against the active discounts"),
	); err != nil {
		return nil, errors.Wrap(err, "quotes counter")
	}
	if s.placed, err = meter.Int64Counter("discounts.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if s.savings, err = meter.Float64Counter("discounts.savings",
		metric.WithDescription("Savings granted on placed orders"),
		metric.WithUnit("{currency}"),
	); err != nil {
		return nil, errors.Wrap(err, "savings counter")
	}
	return s, nil
}

// Quote prices a cart without persisting anything. A supplied coupon code
// that cannot be applied fails the quote with a *discount.ValidationError.
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	q, err := s.quote(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote failed")
		return nil, err
	}
	s.quotes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("coupon", req.CouponCode != "")))
	return q, nil
}

// PlaceOrder quotes the cart, then persists the order and commits its
// redemptions in one unit of work. A redemption that lost a race for the
// last use or the remaining balance aborts the order.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	q, err := s.quote(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote failed")
		return nil, err
	}

	o := &Order{
		ID:         s.newID(),
		Items:      req.Items,
		Subtotal:   q.Subtotal,
		Shipping:   q.Shipping,
		Discounts:  q.Discounts,
		Total:      q.Total,
		CouponCode: req.CouponCode,
		Applied:    q.Applied,
		CreatedAt:  s.now(),
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	redemptions := q.redemptions

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if len(redemptions) == 0 {
			return nil
		}
		if err := s.discounts.Redeem(ctx, o.ID, redemptions); err != nil {
			return errors.Wrap(err, "redeem discounts")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order failed")
		return nil, err
	}
	if len(redemptions) > 0 {
		s.invalidateSnapshot(ctx)
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Stringer("total", o.Total),
		zap.Stringer("discounts", o.Discounts),
		zap.Int("redemptions", len(redemptions)),
	)
	s.placed.Add(ctx, 1)
	s.savings.Add(ctx, o.Discounts.InexactFloat64())

	return &PlaceOrderResult{Order: o, Products: q.Products}, nil
}

// ValidateCoupon checks whether the coupon identified by code can be applied
// to the cart. The returned rule is nil only when the code is unknown.
func (s *Service) ValidateCoupon(ctx context.Context, code string, req Request) (*discount.Rule, error) {
	ctx, span := s.tracer.Start(ctx, "order.ValidateCoupon")
	defer span.End()

	_, snapshot, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.checkCoupon(ctx, code, snapshot, discount.Context{CouponCode: code, Now: s.now()})
}

// Matching returns the active rules eligible for the cart, in creation order.
func (s *Service) Matching(ctx context.Context, req Request) ([]*discount.Rule, error) {
	ctx, span := s.tracer.Start(ctx, "order.Matching")
	defer span.End()

	_, snapshot, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	rules, err := s.discounts.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}

	matched, err := discount.NewMatcher(rules, s.matcherOpts...).
		GetMatching(snapshot, discount.Context{CouponCode: req.CouponCode, Now: s.now()})
	if err != nil {
		s.logInvalid(ctx, err)
	}
	return matched, nil
}

// SavingsTotal returns the savings recorded against a discount across all orders.
func (s *Service) SavingsTotal(ctx context.Context, discountID int64) (decimal.Decimal, error) {
	if s.ledger == nil {
		return decimal.Zero, errors.New("savings ledger not configured")
	}
	return s.ledger.SavingsTotal(ctx, discountID)
}

// SavingsForOrder returns the savings a discount granted on one order.
func (s *Service) SavingsForOrder(ctx context.Context, discountID int64, orderID string) (decimal.Decimal, error) {
	if s.ledger == nil {
		return decimal.Zero, errors.New("savings ledger not configured")
	}
	return s.ledger.SavingsForOrder(ctx, discountID, orderID)
}

func (s *Service) quote(ctx context.Context, req Request) (*Quote, error) {
	products, snapshot, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	rc := discount.Context{CouponCode: req.CouponCode, Now: s.now()}
	var coupon *discount.Rule
	if req.CouponCode != "" {
		if coupon, err = s.checkCoupon(ctx, req.CouponCode, snapshot, rc); err != nil {
			return nil, err
		}
	}

	rules, err := s.discounts.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	if coupon != nil {
		rules = withRule(rules, *coupon)
	}

	res := discount.NewCalculator(rules, snapshot, rc, s.matcherOpts...).Run()
	if res.Invalid != nil {
		s.logInvalid(ctx, res.Invalid)
	}

	q := &Quote{
		Subtotal:  res.Subtotal.Round(2),
		Shipping:  snapshot.Shipping.Round(2),
		Discounts: res.Total.Round(2),
		Products:  products,
	}
	// Total = subtotal + shipping - discounts, floored at zero.
	q.Total = q.Subtotal.Add(q.Shipping).Sub(q.Discounts)
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}

	applied := res.Applied()
	redemptions := res.Redemptions()
	for i, amount := range allocateCents(q.Discounts, applied) {
		if !amount.IsPositive() {
			continue
		}
		r := applied[i].Rule
		q.Applied = append(q.Applied, AppliedDiscount{
			DiscountID: r.ID,
			Title:      r.Title,
			Code:       r.Code(),
			Amount:     amount,
		})
		redemptions[i].Amount = amount
		q.redemptions = append(q.redemptions, redemptions[i])
	}
	return q, nil
}

// withRule returns rules with r in place of the entry sharing its ID, or
// appended when no entry does. The input slice is not modified.
func withRule(rules []discount.Rule, r discount.Rule) []discount.Rule {
	out := make([]discount.Rule, 0, len(rules)+1)
	replaced := false
	for _, cur := range rules {
		if cur.ID == r.ID {
			cur, replaced = r, true
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

// allocateCents splits total, already rounded to cents, across the
// contributions by largest remainder. Each share is its Applied amount
// floored to the cent; leftover cents go to the largest fractional parts,
// earlier contributions first on ties. The shares always sum to total.
func allocateCents(total decimal.Decimal, cs []discount.Contribution) []decimal.Decimal {
	cent := decimal.New(1, -2)
	shares := make([]decimal.Decimal, len(cs))
	rest := make([]decimal.Decimal, len(cs))
	left := total
	for i, c := range cs {
		shares[i] = c.Applied.Truncate(2)
		rest[i] = c.Applied.Sub(shares[i])
		left = left.Sub(shares[i])
	}

	order := make([]int, len(cs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rest[order[a]].GreaterThan(rest[order[b]])
	})
	for _, i := range order {
		if !left.IsPositive() {
			break
		}
		shares[i] = shares[i].Add(cent)
		left = left.Sub(cent)
	}
	return shares
}

// snapshot validates the request, fetches its products in a single batch
// and builds the order the discount engine prices.
func (s *Service) snapshot(ctx context.Context, req Request) ([]product.Product, discount.Order, error) {
	if len(req.Items) == 0 {
		return nil, discount.Order{}, ErrEmptyItems
	}
	if req.Shipping.IsNegative() {
		return nil, discount.Order{}, ErrInvalidShipping
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, discount.Order{}, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, discount.Order{}, errors.Wrap(err, "get products")
	}
	byID := product.Index(fetched)

	products := make([]product.Product, 0, len(req.Items))
	o := discount.Order{
		Items:    make([]discount.Item, 0, len(req.Items)),
		Shipping: req.Shipping,
	}
	for _, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, discount.Order{}, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		o.Items = append(o.Items, discount.Item{
			ProductID:  p.ID,
			CategoryID: p.Category,
			UnitPrice:  p.Price,
			Quantity:   item.Quantity,
		})
	}
	return products, o, nil
}

func (s *Service) checkCoupon(ctx context.Context, code string, o discount.Order, rc discount.Context) (*discount.Rule, error) {
	r, err := s.discounts.FindByCode(ctx, code)
	if errors.Is(err, discount.ErrNotFound) {
		return nil, discount.ErrUnknownCode
	}
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}
	if err := r.Check(s.minCodeLen); err != nil {
		s.logInvalid(ctx, err)
		return r, err
	}
	return r, r.ValidateOrder(o, rc)
}

// invalidateSnapshot drops any cached rule snapshot once redemptions have
// committed, so no reader re-caches the counters the transaction replaced.
func (s *Service) invalidateSnapshot(ctx context.Context) {
	inv, ok := s.discounts.(discount.Invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Invalidating rule snapshot", zap.Error(err))
	}
}

func (s *Service) logInvalid(ctx context.Context, err error) {
	zctx.From(ctx).Error("Refused misconfigured discounts", zap.Error(err))
}
