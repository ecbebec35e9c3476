package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/domain/order"
	"github.com/xenking/oolio-discounts/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	err      error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.err
}

func (m *mockProductRepo) GetByIDs(_ context.Context, _ []string) ([]product.Product, error) {
	return m.products, m.err
}

type mockOrderService struct {
	quote   *order.Quote
	placed  *order.PlaceOrderResult
	rule    *discount.Rule
	rules   []*discount.Rule
	savings decimal.Decimal
	err     error

	lastReq     order.Request
	lastCode    string
	lastID      int64
	lastOrderID string
}

func (m *mockOrderService) Quote(_ context.Context, req order.Request) (*order.Quote, error) {
	m.lastReq = req
	return m.quote, m.err
}

func (m *mockOrderService) PlaceOrder(_ context.Context, req order.Request) (*order.PlaceOrderResult, error) {
	m.lastReq = req
	return m.placed, m.err
}

func (m *mockOrderService) ValidateCoupon(_ context.Context, code string, req order.Request) (*discount.Rule, error) {
	m.lastCode = code
	m.lastReq = req
	return m.rule, m.err
}

func (m *mockOrderService) Matching(_ context.Context, req order.Request) ([]*discount.Rule, error) {
	m.lastReq = req
	return m.rules, m.err
}

func (m *mockOrderService) SavingsTotal(_ context.Context, id int64) (decimal.Decimal, error) {
	m.lastID = id
	return m.savings, m.err
}

func (m *mockOrderService) SavingsForOrder(_ context.Context, id int64, orderID string) (decimal.Decimal, error) {
	m.lastID = id
	m.lastOrderID = orderID
	return m.savings, m.err
}

// --- Helpers ---

func newTestProduct(id string, price string) product.Product {
	return product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		Category: "Waffle",
		Image: product.Image{
			Thumbnail: "/thumb.jpg",
			Mobile:    "/mobile.jpg",
			Tablet:    "/tablet.jpg",
			Desktop:   "/desktop.jpg",
		},
	}
}

func serve(t *testing.T, h *Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		newTestProduct("1", "6.50"),
		newTestProduct("2", "7.00"),
	}}
	h := New(Config{ImageBaseURL: "https://cdn.example.com"}, repo, &mockOrderService{})

	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/product", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
		Image struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"image"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, 6.5, out[0].Price)
	assert.Equal(t, "https://cdn.example.com/thumb.jpg", out[0].Image.Thumbnail)
}

func TestListProducts_Error(t *testing.T) {
	h := New(Config{}, &mockProductRepo{err: errors.New("db down")}, &mockOrderService{})

	rec, body := serve(t, h, http.MethodGet, "/api/product", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["message"])
}

func TestQuote(t *testing.T) {
	svc := &mockOrderService{quote: &order.Quote{
		Subtotal:  decimal.RequireFromString("40"),
		Shipping:  decimal.RequireFromString("5"),
		Discounts: decimal.RequireFromString("4"),
		Total:     decimal.RequireFromString("41"),
		Applied: []order.AppliedDiscount{
			{DiscountID: 7, Title: "10% off", Amount: decimal.RequireFromString("4")},
		},
		Products: []product.Product{newTestProduct("1", "10")},
	}}
	h := New(Config{}, &mockProductRepo{}, svc)

	rec, body := serve(t, h, http.MethodPost, "/api/quote",
		`{"items":[{"productId":"1","quantity":4}],"couponCode":"SAVE10","shipping":"5.00"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40.0, body["subtotal"])
	assert.Equal(t, 5.0, body["shipping"])
	assert.Equal(t, 4.0, body["discounts"])
	assert.Equal(t, 41.0, body["total"])
	applied, ok := body["appliedDiscounts"].([]any)
	require.True(t, ok)
	require.Len(t, applied, 1)
	assert.Equal(t, "10% off", applied[0].(map[string]any)["title"])

	assert.Equal(t, []order.Item{{ProductID: "1", Quantity: 4}}, svc.lastReq.Items)
	assert.Equal(t, "SAVE10", svc.lastReq.CouponCode)
	assert.True(t, decimal.RequireFromString("5").Equal(svc.lastReq.Shipping))
}

func TestPlaceOrder(t *testing.T) {
	placed := &order.PlaceOrderResult{
		Order: &order.Order{
			ID:        "ord-1",
			Items:     []order.Item{{ProductID: "1", Quantity: 2}},
			Subtotal:  decimal.RequireFromString("20"),
			Discounts: decimal.RequireFromString("5"),
			Total:     decimal.RequireFromString("15"),
			Applied: []order.AppliedDiscount{
				{DiscountID: 3, Title: "Five off", Code: "SAVE5", Amount: decimal.RequireFromString("5")},
			},
		},
		Products: []product.Product{newTestProduct("1", "10")},
	}

	tests := []struct {
		name       string
		svc        *mockOrderService
		body       string
		wantStatus int
		wantReason string
	}{
		{
			name:       "placed",
			svc:        &mockOrderService{placed: placed},
			body:       `{"items":[{"productId":"1","quantity":2}],"couponCode":"SAVE5"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed body returns 400",
			svc:        &mockOrderService{placed: placed},
			body:       `{"items":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "shipping of wrong type returns 400",
			svc:        &mockOrderService{placed: placed},
			body:       `{"items":[],"shipping":"abc"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty items returns 400",
			svc:        &mockOrderService{err: order.ErrEmptyItems},
			body:       `{"items":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid quantity returns 422",
			svc:        &mockOrderService{err: &order.InvalidQuantityError{ProductID: "1"}},
			body:       `{"items":[{"productId":"1","quantity":0}]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown product returns 422",
			svc:        &mockOrderService{err: &order.ProductNotFoundError{ProductID: "9"}},
			body:       `{"items":[{"productId":"9","quantity":1}]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown coupon returns 422 with reason",
			svc:        &mockOrderService{err: errors.Wrap(discount.ErrUnknownCode, "coupon")},
			body:       `{"items":[{"productId":"1","quantity":1}],"couponCode":"NOPE"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: string(discount.ReasonUnknownCode),
		},
		{
			name:       "exhausted balance returns 422 with reason",
			svc:        &mockOrderService{err: errors.Wrap(discount.ErrBalanceExhausted, "redeem")},
			body:       `{"items":[{"productId":"1","quantity":1}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: string(discount.ReasonBalanceExhausted),
		},
		{
			name:       "storage failure returns 500",
			svc:        &mockOrderService{err: errors.New("connection reset")},
			body:       `{"items":[{"productId":"1","quantity":1}]}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{}, &mockProductRepo{}, tt.svc)

			rec, body := serve(t, h, http.MethodPost, "/api/order", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusOK {
				assert.EqualValues(t, tt.wantStatus, body["code"])
				if tt.wantReason != "" {
					assert.Equal(t, tt.wantReason, body["reason"])
				}
				return
			}

			assert.Equal(t, "ord-1", body["id"])
			assert.Equal(t, 15.0, body["total"])
			assert.Equal(t, 5.0, body["discounts"])
			items := body["items"].([]any)
			require.Len(t, items, 1)
			assert.Equal(t, "1", items[0].(map[string]any)["productId"])
			applied := body["appliedDiscounts"].([]any)
			require.Len(t, applied, 1)
			assert.Equal(t, "SAVE5", applied[0].(map[string]any)["code"])
		})
	}
}

func TestValidateCoupon(t *testing.T) {
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := discount.NewRule("Holiday", discount.TypePercent)
	rule.ID = 11
	rule.Percent = decimal.RequireFromString("0.1")
	rule.Coupon = &discount.Coupon{Code: "HOLIDAY"}
	rule.EndDate = &end

	t.Run("valid", func(t *testing.T) {
		svc := &mockOrderService{rule: &rule}
		h := New(Config{}, &mockProductRepo{}, svc)

		rec, body := serve(t, h, http.MethodPost, "/api/discounts/validate",
			`{"code":"HOLIDAY","items":[{"productId":"1","quantity":1}]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["valid"])
		d := body["discount"].(map[string]any)
		assert.EqualValues(t, 11, d["id"])
		assert.Equal(t, "coupon", d["kind"])
		assert.Equal(t, "2030-01-01T00:00:00Z", d["endDate"])
		assert.Equal(t, "HOLIDAY", svc.lastCode)
	})

	t.Run("falls back to couponCode", func(t *testing.T) {
		svc := &mockOrderService{rule: &rule}
		h := New(Config{}, &mockProductRepo{}, svc)

		rec, _ := serve(t, h, http.MethodPost, "/api/discounts/validate",
			`{"couponCode":"HOLIDAY","items":[{"productId":"1","quantity":1}]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "HOLIDAY", svc.lastCode)
	})

	t.Run("missing code returns 400", func(t *testing.T) {
		h := New(Config{}, &mockProductRepo{}, &mockOrderService{rule: &rule})

		rec, _ := serve(t, h, http.MethodPost, "/api/discounts/validate", `{"items":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ineligible returns 422", func(t *testing.T) {
		svc := &mockOrderService{err: discount.ErrMinimumSpendUnmet}
		h := New(Config{}, &mockProductRepo{}, svc)

		rec, body := serve(t, h, http.MethodPost, "/api/discounts/validate",
			`{"code":"HOLIDAY","items":[{"productId":"1","quantity":1}]}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, string(discount.ReasonMinimumSpend), body["reason"])
		assert.Equal(t, discount.ErrMinimumSpendUnmet.Message, body["message"])
	})
}

func TestMatching(t *testing.T) {
	auto := discount.NewRule("Ten off", discount.TypeAmount)
	auto.ID = 1
	auto.Amount = decimal.NewFromInt(10)
	credit := discount.NewRule("Store credit", discount.TypeAmount)
	credit.ID = 2
	credit.Amount = decimal.NewFromInt(50)
	credit.Balance = &discount.Balance{Remaining: decimal.RequireFromString("20.5")}

	svc := &mockOrderService{rules: []*discount.Rule{&auto, &credit}}
	h := New(Config{}, &mockProductRepo{}, svc)

	rec, body := serve(t, h, http.MethodPost, "/api/discounts/matching",
		`{"items":[{"productId":"1","quantity":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	list := body["discounts"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "order", list[0].(map[string]any)["kind"])
	assert.Equal(t, "partial_use", list[1].(map[string]any)["kind"])
	assert.Equal(t, 20.5, list[1].(map[string]any)["balance"])
}

func TestSavings(t *testing.T) {
	t.Run("total", func(t *testing.T) {
		svc := &mockOrderService{savings: decimal.RequireFromString("12.345")}
		h := New(Config{}, &mockProductRepo{}, svc)

		rec, body := serve(t, h, http.MethodGet, "/api/discounts/4/savings", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 4, body["discountId"])
		assert.Equal(t, 12.35, body["savings"])
		assert.NotContains(t, body, "orderId")
		assert.Equal(t, int64(4), svc.lastID)
	})

	t.Run("for order", func(t *testing.T) {
		svc := &mockOrderService{savings: decimal.NewFromInt(3)}
		h := New(Config{}, &mockProductRepo{}, svc)

		rec, body := serve(t, h, http.MethodGet, "/api/discounts/4/savings?orderId=ord-9", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ord-9", body["orderId"])
		assert.Equal(t, "ord-9", svc.lastOrderID)
	})

	t.Run("invalid id returns 400", func(t *testing.T) {
		h := New(Config{}, &mockProductRepo{}, &mockOrderService{})

		rec, _ := serve(t, h, http.MethodGet, "/api/discounts/abc/savings", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReadCart_BodyLimit(t *testing.T) {
	h := New(Config{MaxBodyBytes: 16}, &mockProductRepo{}, &mockOrderService{})

	rec, _ := serve(t, h, http.MethodPost, "/api/quote",
		`{"items":[{"productId":"1","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
