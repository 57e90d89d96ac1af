// Package backendtest 提供測試用的後端購物車服務
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/go-chi/chi/v5"
)

type Product struct {
	Name     string
	Price    model.Amount
	Discount model.Amount
}

type UpdateCall struct {
	ItemID   string
	Quantity int
}

// FakeBackend 以 token 區分購物車，行為與真實後端相同的回應格式
type FakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	carts    map[string]*model.Cart
	products map[string]Product
	promos   map[string]model.Amount // code -> percentage
	balance  model.Amount
	nextID   int

	calls       map[string]int
	updateCalls []UpdateCall
	failNext    map[string]failure
}

type failure struct {
	status  int
	message string
}

func NewFakeBackend() *FakeBackend {
	f := &FakeBackend{
		carts:    make(map[string]*model.Cart),
		products: make(map[string]Product),
		promos:   make(map[string]model.Amount),
		calls:    make(map[string]int),
		failNext: make(map[string]failure),
	}

	r := chi.NewRouter()
	r.Use(f.authorize)
	r.Get("/cart/items", f.track("get_cart", f.getCart))
	r.Post("/cart/items", f.track("add_item", f.addItem))
	r.Put("/cart/items/{itemId}", f.track("update_quantity", f.updateQuantity))
	r.Delete("/cart/items/{itemId}", f.track("remove_item", f.removeItem))
	r.Delete("/cart", f.track("remove_cart", f.removeCart))
	r.Post("/cart/promo", f.track("apply_promo", f.applyPromo))
	r.Delete("/cart/promo", f.track("remove_promo", f.removePromo))
	r.Get("/wallet/balance", f.track("wallet_balance", f.walletBalance))
	r.Post("/payments/initiate", f.track("initiate_payment", f.initiatePayment))

	f.Server = httptest.NewServer(r)
	return f
}

func (f *FakeBackend) AddProduct(id string, p Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = p
}

func (f *FakeBackend) AddPromo(code string, percentage model.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promos[code] = percentage
}

func (f *FakeBackend) SetBalance(b model.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

// FailNext 指定 route 下一次呼叫回傳錯誤
func (f *FakeBackend) FailNext(route string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[route] = failure{status: status, message: message}
}

func (f *FakeBackend) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *FakeBackend) UpdateCalls() []UpdateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UpdateCall, len(f.updateCalls))
	copy(out, f.updateCalls)
	return out
}

// Cart 直接讀取後端狀態
func (f *FakeBackend) Cart(token string) model.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cartLocked(token).Clone()
}

func (f *FakeBackend) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		r.Header.Set("X-Fake-Token", token)
		next.ServeHTTP(w, r)
	})
}

func (f *FakeBackend) track(route string, h func(w http.ResponseWriter, r *http.Request, token string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		fail, shouldFail := f.failNext[route]
		delete(f.failNext, route)
		f.mu.Unlock()

		if shouldFail {
			writeError(w, fail.status, fail.message)
			return
		}
		h(w, r, r.Header.Get("X-Fake-Token"))
	}
}

func (f *FakeBackend) cartLocked(token string) *model.Cart {
	c, ok := f.carts[token]
	if !ok {
		empty := model.EmptyCart()
		c = &empty
		f.carts[token] = c
	}
	return c
}

// 模擬後端計算 promo 與 finalAmount
func (f *FakeBackend) recomputeLocked(c *model.Cart) {
	model.RecomputeTotals(c)
	final := c.TotalAmount
	c.PromoCodeDiscountAmount = nil
	if c.PromoCodeDiscountPercentage != nil {
		discount := model.Amount(c.TotalAmount.Float64() * c.PromoCodeDiscountPercentage.Float64() / 100)
		c.PromoCodeDiscountAmount = &discount
		final = c.TotalAmount - discount
	}
	c.FinalAmount = &final
}

func (f *FakeBackend) getCart(w http.ResponseWriter, r *http.Request, token string) {
	f.mu.Lock()
	c := f.cartLocked(token)
	f.recomputeLocked(c)
	out := c.Clone()
	f.mu.Unlock()
	writeData(w, out)
}

func (f *FakeBackend) addItem(w http.ResponseWriter, r *http.Request, token string) {
	var body struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[body.ProductID]
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	c := f.cartLocked(token)
	if i, found := c.FindProduct(body.ProductID); found {
		c.Items[i].Quantity += body.Quantity
	} else {
		f.nextID++
		c.Items = append(c.Items, model.CartItem{
			ID:              fmt.Sprintf("srv-%d", f.nextID),
			ProductID:       body.ProductID,
			Name:            p.Name,
			Quantity:        body.Quantity,
			UnitPrice:       p.Price,
			ProductDiscount: p.Discount,
		})
	}
	f.recomputeLocked(c)
	writeData(w, c.Clone())
}

func (f *FakeBackend) updateQuantity(w http.ResponseWriter, r *http.Request, token string) {
	itemID := chi.URLParam(r, "itemId")
	var body struct {
		ItemID   string `json:"itemId"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ItemID != itemID {
		writeError(w, http.StatusBadRequest, "invalid quantity update")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, UpdateCall{ItemID: itemID, Quantity: body.Quantity})
	c := f.cartLocked(token)
	i, found := c.FindItem(itemID)
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if body.Quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	} else {
		c.Items[i].Quantity = body.Quantity
	}
	f.recomputeLocked(c)
	writeData(w, c.Clone())
}

func (f *FakeBackend) removeItem(w http.ResponseWriter, r *http.Request, token string) {
	itemID := chi.URLParam(r, "itemId")
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cartLocked(token)
	if i, found := c.FindItem(itemID); found {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
	f.recomputeLocked(c)
	writeData(w, c.Clone())
}

func (f *FakeBackend) removeCart(w http.ResponseWriter, r *http.Request, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, token)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeBackend) applyPromo(w http.ResponseWriter, r *http.Request, token string) {
	var body struct {
		PromoCode string `json:"promoCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid promo request")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	pct, ok := f.promos[body.PromoCode]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "promo code is invalid or expired")
		return
	}
	c := f.cartLocked(token)
	code := body.PromoCode
	c.AppliedPromoCode = &code
	c.PromoCodeDiscountPercentage = &pct
	f.recomputeLocked(c)
	writeData(w, c.Clone())
}

func (f *FakeBackend) removePromo(w http.ResponseWriter, r *http.Request, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cartLocked(token)
	c.AppliedPromoCode = nil
	c.PromoCodeDiscountPercentage = nil
	f.recomputeLocked(c)
	writeData(w, c.Clone())
}

func (f *FakeBackend) walletBalance(w http.ResponseWriter, r *http.Request, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, model.WalletBalance{Balance: f.balance, Currency: "TWD"})
}

func (f *FakeBackend) initiatePayment(w http.ResponseWriter, r *http.Request, token string) {
	var req model.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Method.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid payment method")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cartLocked(token)
	if len(c.Items) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "cart is empty")
		return
	}
	f.nextID++
	orderID := fmt.Sprintf("order-%d", f.nextID)
	writeData(w, model.PaymentRedirect{
		RedirectURL: "https://pay.example.com/checkout/" + orderID,
		OrderID:     orderID,
	})
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
