package model

import (
	"github.com/shopspring/decimal"
)

// Product 加入購物車當下的商品快照
// Price 為商品折扣後單價，Discount 為每單位折扣金額
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
	Price    Amount `json:"price"`
	Discount Amount `json:"discount"`
}

type CartItem struct {
	ID                       string `json:"id"`
	ProductID                string `json:"productId"`
	Name                     string `json:"name,omitempty"`
	ImageURL                 string `json:"imageUrl,omitempty"`
	Quantity                 int    `json:"quantity"`
	UnitPrice                Amount `json:"unitPrice"`
	ProductDiscount          Amount `json:"productDiscount"`
	TotalPriceBeforeDiscount Amount `json:"totalPriceBeforeDiscount"`
	TotalPrice               Amount `json:"totalPrice"`
}

// Cart
// 聚合欄位只能由 RecomputeTotals 寫入 (本地購物車)
// 或直接來自後端 (已登入購物車)，promo 相關欄位只有後端購物車會帶
type Cart struct {
	Items                       []CartItem `json:"items"`
	TotalPriceBeforeDiscount    Amount     `json:"totalPriceBeforeDiscount"`
	TotalDiscount               Amount     `json:"totalDiscount"`
	TotalAmount                 Amount     `json:"totalAmount"`
	AppliedPromoCode            *string    `json:"appliedPromoCode,omitempty"`
	PromoCodeDiscountPercentage *Amount    `json:"promoCodeDiscountPercentage,omitempty"`
	PromoCodeDiscountAmount     *Amount    `json:"promoCodeDiscountAmount,omitempty"`
	FinalAmount                 *Amount    `json:"finalAmount,omitempty"`
}

// EmptyCart 標準空購物車
func EmptyCart() Cart {
	return Cart{Items: []CartItem{}}
}

// Clone deep copy，給 listener 的 snapshot 不共用底層 slice
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	out.AppliedPromoCode = clonePtr(c.AppliedPromoCode)
	out.PromoCodeDiscountPercentage = clonePtr(c.PromoCodeDiscountPercentage)
	out.PromoCodeDiscountAmount = clonePtr(c.PromoCodeDiscountAmount)
	out.FinalAmount = clonePtr(c.FinalAmount)
	return out
}

func (c Cart) FindItem(itemID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i, true
		}
	}
	return -1, false
}

func (c Cart) FindProduct(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// ItemCount header badge 用的商品總數
func (c Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// DeriveItemTotals 以原始單位折扣快照重新計算單品小計
// 折扣前單價 = unitPrice + productDiscount
func DeriveItemTotals(item *CartItem) {
	q := float64(item.Quantity)
	item.TotalPriceBeforeDiscount = Amount(q * (item.UnitPrice.Float64() + item.ProductDiscount.Float64()))
	item.TotalPrice = Amount(q * item.UnitPrice.Float64())
}

// RecomputeTotals 唯一的聚合計算入口
// 每個聚合欄位獨立計算，結果為 NaN/Inf 時寫入 0，不影響其他欄位
func RecomputeTotals(cart *Cart) {
	if cart.Items == nil {
		cart.Items = []CartItem{}
	}
	for i := range cart.Items {
		DeriveItemTotals(&cart.Items[i])
	}

	cart.TotalPriceBeforeDiscount = sumItems(cart.Items, func(it CartItem) float64 {
		return it.TotalPriceBeforeDiscount.Float64()
	})
	cart.TotalDiscount = sumItems(cart.Items, func(it CartItem) float64 {
		return it.ProductDiscount.Float64() * float64(it.Quantity)
	})
	cart.TotalAmount = sumItems(cart.Items, func(it CartItem) float64 {
		return it.TotalPrice.Float64()
	})
}

func sumItems(items []CartItem, term func(CartItem) float64) Amount {
	total := decimal.Zero
	for _, item := range items {
		v := Amount(term(item))
		if !v.IsFinite() {
			return 0
		}
		total = total.Add(decimal.NewFromFloat(v.Float64()))
	}
	return Amount(total.InexactFloat64())
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
