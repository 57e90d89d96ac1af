package dto

import (
	"strings"

	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
)

// AddItemRequest 訪客購物車需要完整商品快照，已登入只用到 productId
type AddItemRequest struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	ImageURL  string       `json:"imageUrl"`
	Price     model.Amount `json:"price"`
	Discount  model.Amount `json:"discount"`
	Quantity  int          `json:"quantity"`
}

func (r *AddItemRequest) Validate() error {
	r.ProductID = strings.TrimSpace(r.ProductID)
	if r.ProductID == "" {
		return apperr.New(apperr.BadRequestCode, "productId is required")
	}
	if r.Quantity == 0 {
		r.Quantity = 1
	}
	if r.Quantity < 0 {
		return apperr.New(apperr.BadRequestCode, "quantity must be positive")
	}
	return nil
}

func (r *AddItemRequest) Product() model.Product {
	return model.Product{
		ID:       r.ProductID,
		Name:     r.Name,
		ImageURL: r.ImageURL,
		Price:    r.Price,
		Discount: r.Discount,
	}
}

// UpdateQuantityRequest quantity <= 0 等同移除
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (r *UpdateQuantityRequest) Validate() error {
	if r.Quantity == nil {
		return apperr.New(apperr.BadRequestCode, "quantity is required")
	}
	return nil
}

type PromoRequest struct {
	PromoCode string `json:"promoCode"`
}

func (r *PromoRequest) Validate() error {
	r.PromoCode = strings.TrimSpace(r.PromoCode)
	if r.PromoCode == "" {
		return apperr.New(apperr.BadRequestCode, "promoCode is required")
	}
	return nil
}

type CheckoutRequest struct {
	Method            model.PaymentMethod `json:"method"`
	InstallmentPlanID string              `json:"installmentPlanId"`
	UseWallet         bool                `json:"useWallet"`
}

func (r *CheckoutRequest) Validate() error {
	if r.Method == "" {
		r.Method = model.PaymentOnline
	}
	if !r.Method.IsValid() {
		return apperr.New(apperr.BadRequestCode, "unsupported payment method")
	}
	if r.Method == model.PaymentInstallment && r.InstallmentPlanID == "" {
		return apperr.New(apperr.BadRequestCode, "installmentPlanId is required")
	}
	return nil
}

func (r *CheckoutRequest) PaymentRequest() model.PaymentRequest {
	return model.PaymentRequest{
		Method:            r.Method,
		InstallmentPlanID: r.InstallmentPlanID,
		UseWallet:         r.UseWallet,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}
