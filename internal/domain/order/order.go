package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a placed customer order with its pricing and the discounts that
// reduced it.
type Order struct {
	ID         string
	Items      []Item
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Discounts  decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
	Applied    []AppliedDiscount
	CreatedAt  time.Time
}

// Item is a single requested order line.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AppliedDiscount is one rule's share of an order's savings.
type AppliedDiscount struct {
	DiscountID int64
	Title      string
	Code       string
	Amount     decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}

// UnitOfWork runs fn in a single storage transaction carried by the context.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
