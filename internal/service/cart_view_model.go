package service

import (
	"context"

	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
)

// ICartViewModel 畫面統一使用的購物車入口，不論訪客或已登入回傳相同形狀
// 需要登入的操作在訪客狀態回傳 apperr.ErrSignInRequired
type ICartViewModel interface {
	Source() CartSource
	View(ctx context.Context) (model.CartView, error)
	AddItem(ctx context.Context, product model.Product, quantity int) (model.CartView, error)
	UpdateQuantity(ctx context.Context, itemID string, quantity int) (model.CartView, error)
	RemoveItem(ctx context.Context, itemID string) (model.CartView, error)
	Clear(ctx context.Context) (model.CartView, error)
	ApplyPromo(ctx context.Context, promoCode string) (model.CartView, error)
	RemovePromo(ctx context.Context) (model.CartView, error)
	WalletBalance(ctx context.Context) (model.WalletBalance, error)
	Checkout(ctx context.Context, req model.PaymentRequest) (model.PaymentRedirect, error)
}

type CartViewModel struct {
	source CartSource
}

func NewCartViewModel(source CartSource) *CartViewModel {
	if source == nil {
		panic("cart source cannot be nil")
	}
	return &CartViewModel{source: source}
}

var _ ICartViewModel = (*CartViewModel)(nil)

func (vm *CartViewModel) Source() CartSource {
	return vm.source
}

func (vm *CartViewModel) View(ctx context.Context) (model.CartView, error) {
	cart, err := vm.source.Cart(ctx)
	if err != nil {
		return model.CartView{}, err
	}
	return buildView(vm.source, cart), nil
}

func (vm *CartViewModel) AddItem(ctx context.Context, product model.Product, quantity int) (model.CartView, error) {
	if err := vm.source.AddItem(ctx, product, quantity); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) UpdateQuantity(ctx context.Context, itemID string, quantity int) (model.CartView, error) {
	if err := vm.source.UpdateQuantity(ctx, itemID, quantity); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) RemoveItem(ctx context.Context, itemID string) (model.CartView, error) {
	if err := vm.source.RemoveItem(ctx, itemID); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) Clear(ctx context.Context) (model.CartView, error) {
	if err := vm.source.Clear(ctx); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) ApplyPromo(ctx context.Context, promoCode string) (model.CartView, error) {
	if err := vm.source.ApplyPromo(ctx, promoCode); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) RemovePromo(ctx context.Context) (model.CartView, error) {
	if err := vm.source.RemovePromo(ctx); err != nil {
		return model.CartView{}, err
	}
	return vm.View(ctx)
}

func (vm *CartViewModel) WalletBalance(ctx context.Context) (model.WalletBalance, error) {
	return vm.source.WalletBalance(ctx)
}

func (vm *CartViewModel) Checkout(ctx context.Context, req model.PaymentRequest) (model.PaymentRedirect, error) {
	return vm.source.Checkout(ctx, req)
}

/*
buildView 將暫時數量套用到後端購物車
  - 有暫時數量的項目重新計算小計，聚合欄位跟著重算
  - finalAmount 依總額差額平移，有 promo 時差額先打折
  - 沒有暫時數量時完全使用後端的數字
*/
func buildView(source CartSource, cart model.Cart) model.CartView {
	if source.Kind() != model.SourceRemote {
		return model.NewCartView(source.Kind(), cart)
	}

	overlaid := cart.Clone()
	pending := false
	items := overlaid.Items[:0]
	for _, item := range overlaid.Items {
		if q, ok := source.PendingQuantity(item.ID); ok {
			pending = true
			if q <= 0 {
				continue
			}
			item.Quantity = q
			model.DeriveItemTotals(&item)
		}
		items = append(items, item)
	}
	overlaid.Items = items

	if !pending {
		return model.NewCartView(source.Kind(), cart)
	}

	serverTotal := cart.TotalAmount
	serverFinal := cart.TotalAmount
	if cart.FinalAmount != nil {
		serverFinal = *cart.FinalAmount
	}
	model.RecomputeTotals(&overlaid)

	delta := overlaid.TotalAmount.Float64() - serverTotal.Float64()
	pct := 0.0
	if cart.PromoCodeDiscountPercentage != nil && cart.PromoCodeDiscountPercentage.IsFinite() {
		pct = cart.PromoCodeDiscountPercentage.Float64()
	}
	final := model.Amount(serverFinal.Float64() + delta*(1-pct/100))
	if !final.IsFinite() {
		final = overlaid.TotalAmount
	}
	overlaid.FinalAmount = &final
	if cart.PromoCodeDiscountAmount != nil {
		promo := model.Amount(cart.PromoCodeDiscountAmount.Float64() + delta*pct/100)
		overlaid.PromoCodeDiscountAmount = &promo
	}

	view := model.NewCartView(source.Kind(), overlaid)
	view.Pending = true
	return view
}
