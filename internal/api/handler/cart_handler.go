package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/api/dto"
	"github.com/RoyceAzure/lab/cartsync/internal/api/middleware"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/RoyceAzure/lab/cartsync/internal/service"
	"github.com/go-chi/chi/v5"
)

// CartHandler 購物車 BFF，來源 (訪客/已登入) 由 CartMiddleware 決定
type CartHandler struct{}

func NewCartHandler() *CartHandler {
	return &CartHandler{}
}

func viewModel(w http.ResponseWriter, r *http.Request) (service.ICartViewModel, bool) {
	vm, ok := middleware.GetCartViewModelFromContext(r.Context())
	if !ok {
		apperr.ErrorJSON(w, apperr.New(apperr.InternalErrorCode, "cart not resolved"))
		return nil, false
	}
	return vm, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	// 空 body 交給 Validate 判斷
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		apperr.ErrorJSON(w, apperr.New(apperr.BadRequestCode, apperr.ErrStrMap[apperr.BadRequestCode]))
		return false
	}
	if err := v.Validate(); err != nil {
		apperr.ErrorJSON(w, err)
		return false
	}
	return true
}

// @Summary get cart
// @Tags cart
// @Produce json
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Failure 502 {object} apperr.ResponseError "upstream error"
// @Router /cart [get]
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	view, err := vm.View(r.Context())
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "")
}

// @Summary add item
// @Tags cart
// @Accept json
// @Produce json
// @Param item body dto.AddItemRequest true "product snapshot and quantity"
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Failure 400 {object} apperr.ResponseError "bad request"
// @Router /cart/items [post]
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	var req dto.AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := vm.AddItem(r.Context(), req.Product(), req.Quantity)
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "item added")
}

// @Summary update item quantity
// @Tags cart
// @Accept json
// @Produce json
// @Param itemId path string true "cart item id"
// @Param quantity body dto.UpdateQuantityRequest true "new quantity, <= 0 removes the item"
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Router /cart/items/{itemId} [patch]
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	var req dto.UpdateQuantityRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := vm.UpdateQuantity(r.Context(), chi.URLParam(r, "itemId"), *req.Quantity)
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "")
}

// @Summary remove item
// @Tags cart
// @Produce json
// @Param itemId path string true "cart item id"
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Router /cart/items/{itemId} [delete]
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	view, err := vm.RemoveItem(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "item removed")
}

// @Summary clear cart
// @Tags cart
// @Produce json
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Router /cart [delete]
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	view, err := vm.Clear(r.Context())
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "cart cleared")
}

// @Summary apply promo code
// @Tags cart
// @Accept json
// @Produce json
// @Param promo body dto.PromoRequest true "promo code"
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Failure 400 {object} apperr.ResponseError "invalid promo code"
// @Failure 401 {object} apperr.ResponseError "sign in required"
// @Router /cart/promo [post]
func (h *CartHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	var req dto.PromoRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := vm.ApplyPromo(r.Context(), req.PromoCode)
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "promo code applied")
}

// @Summary remove promo code
// @Tags cart
// @Produce json
// @Success 200 {object} apperr.Response{data=model.CartView} "success"
// @Failure 401 {object} apperr.ResponseError "sign in required"
// @Router /cart/promo [delete]
func (h *CartHandler) RemovePromo(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	view, err := vm.RemovePromo(r.Context())
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, view, "promo code removed")
}

// @Summary wallet balance
// @Tags cart
// @Produce json
// @Success 200 {object} apperr.Response{data=model.WalletBalance} "success"
// @Failure 401 {object} apperr.ResponseError "sign in required"
// @Router /cart/wallet [get]
func (h *CartHandler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	balance, err := vm.WalletBalance(r.Context())
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, balance, "")
}

// @Summary checkout
// @Tags cart
// @Accept json
// @Produce json
// @Param payment body dto.CheckoutRequest true "payment method"
// @Success 200 {object} apperr.Response{data=model.PaymentRedirect} "success"
// @Failure 401 {object} apperr.ResponseError "sign in required"
// @Router /cart/checkout [post]
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	redirect, err := vm.Checkout(r.Context(), req.PaymentRequest())
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}
	apperr.SuccessJSON(w, redirect, "")
}
