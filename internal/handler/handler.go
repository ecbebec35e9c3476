// Package handler exposes the product catalog, cart pricing and discount
// lookups over JSON HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/domain/order"
	"github.com/xenking/oolio-discounts/internal/domain/product"
)

// OrderService is the order workflow the handlers delegate to.
type OrderService interface {
	Quote(ctx context.Context, req order.Request) (*order.Quote, error)
	PlaceOrder(ctx context.Context, req order.Request) (*order.PlaceOrderResult, error)
	ValidateCoupon(ctx context.Context, code string, req order.Request) (*discount.Rule, error)
	Matching(ctx context.Context, req order.Request) ([]*discount.Rule, error)
	SavingsTotal(ctx context.Context, discountID int64) (decimal.Decimal, error)
	SavingsForOrder(ctx context.Context, discountID int64, orderID string) (decimal.Decimal, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
	// MaxBodyBytes bounds request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the JSON API.
type Handler struct {
	products     product.Repository
	orders       OrderService
	imageBaseURL string
	maxBody      int64
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, products product.Repository, orders OrderService) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		products:     products,
		orders:       orders,
		imageBaseURL: cfg.ImageBaseURL,
		maxBody:      maxBody,
	}
}

// RouteValidateCoupon is the coupon validation route pattern, rate limited
// apart from the rest of the API.
const RouteValidateCoupon = "POST /api/discounts/validate"

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/product", h.ListProducts)
	mux.HandleFunc("POST /api/quote", h.Quote)
	mux.HandleFunc("POST /api/order", h.PlaceOrder)
	mux.HandleFunc(RouteValidateCoupon, h.ValidateCoupon)
	mux.HandleFunc("POST /api/discounts/matching", h.Matching)
	mux.HandleFunc("GET /api/discounts/{id}/savings", h.Savings)
}
