package model

type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
)

// CartView 畫面統一讀取的購物車
// 不論來源為本地或後端，欄位形狀一致
type CartView struct {
	Source                   SourceKind `json:"source"`
	Items                    []CartItem `json:"items"`
	ItemCount                int        `json:"itemCount"`
	TotalPriceBeforeDiscount Amount     `json:"totalPriceBeforeDiscount"`
	TotalDiscount            Amount     `json:"totalDiscount"`
	TotalAmount              Amount     `json:"totalAmount"`
	AppliedPromoCode         *string    `json:"appliedPromoCode,omitempty"`
	PromoCodeDiscountAmount  *Amount    `json:"promoCodeDiscountAmount,omitempty"`
	FinalAmount              Amount     `json:"finalAmount"`
	// Pending 有尚未與後端確認的數量變更
	Pending bool `json:"pending"`
}

// NewCartView
// finalAmount 缺少時以 totalAmount 代替
func NewCartView(source SourceKind, cart Cart) CartView {
	cart = cart.Clone()
	view := CartView{
		Source:                   source,
		Items:                    cart.Items,
		ItemCount:                cart.ItemCount(),
		TotalPriceBeforeDiscount: cart.TotalPriceBeforeDiscount,
		TotalDiscount:            cart.TotalDiscount,
		TotalAmount:              cart.TotalAmount,
		AppliedPromoCode:         cart.AppliedPromoCode,
		PromoCodeDiscountAmount:  cart.PromoCodeDiscountAmount,
		FinalAmount:              cart.TotalAmount,
	}
	if cart.FinalAmount != nil {
		view.FinalAmount = *cart.FinalAmount
	}
	return view
}

// WalletBalance 錢包餘額
type WalletBalance struct {
	Balance  Amount `json:"balance"`
	Currency string `json:"currency,omitempty"`
}

type PaymentMethod string

const (
	PaymentOnline      PaymentMethod = "online"
	PaymentWallet      PaymentMethod = "wallet"
	PaymentInstallment PaymentMethod = "installment"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentOnline, PaymentWallet, PaymentInstallment:
		return true
	default:
		return false
	}
}

type PaymentRequest struct {
	Method            PaymentMethod `json:"method"`
	InstallmentPlanID string        `json:"installmentPlanId,omitempty"`
	UseWallet         bool          `json:"useWallet"`
}

// PaymentRedirect 後端回傳的第三方付款導向
type PaymentRedirect struct {
	RedirectURL string `json:"redirectUrl"`
	OrderID     string `json:"orderId,omitempty"`
}
