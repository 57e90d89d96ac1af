package service

import (
	"context"

	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
)

// CartSource 購物車資料來源，建立 view model 時決定一次
type CartSource interface {
	Kind() model.SourceKind
	Owner() string
	Cart(ctx context.Context) (model.Cart, error)
	AddItem(ctx context.Context, product model.Product, quantity int) error
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	RemoveItem(ctx context.Context, itemID string) error
	Clear(ctx context.Context) error
	ApplyPromo(ctx context.Context, promoCode string) error
	RemovePromo(ctx context.Context) error
	WalletBalance(ctx context.Context) (model.WalletBalance, error)
	Checkout(ctx context.Context, req model.PaymentRequest) (model.PaymentRedirect, error)
	// PendingQuantity 尚未與後端確認的數量
	PendingQuantity(itemID string) (int, bool)
}

// Authenticator auth.AuthState 滿足此介面
type Authenticator interface {
	IsAuthenticated() bool
	Token() (string, bool)
}

// NewCartSource 有登入 cookie 使用後端購物車，否則使用訪客購物車
func NewCartSource(a Authenticator, local func() CartSource, remote func(token string) CartSource) CartSource {
	if a != nil && a.IsAuthenticated() {
		if token, ok := a.Token(); ok {
			return remote(token)
		}
	}
	return local()
}

// LocalCartSource 訪客購物車，promo 錢包結帳需要登入
type LocalCartSource struct {
	svc ILocalCartService
}

func NewLocalCartSource(svc ILocalCartService) *LocalCartSource {
	return &LocalCartSource{svc: svc}
}

var _ CartSource = (*LocalCartSource)(nil)

func (l *LocalCartSource) Kind() model.SourceKind {
	return model.SourceLocal
}

func (l *LocalCartSource) Owner() string {
	return l.svc.Owner()
}

func (l *LocalCartSource) Cart(ctx context.Context) (model.Cart, error) {
	return l.svc.GetCart(ctx), nil
}

func (l *LocalCartSource) AddItem(ctx context.Context, product model.Product, quantity int) error {
	l.svc.AddItem(ctx, product, quantity)
	return nil
}

func (l *LocalCartSource) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	l.svc.UpdateQuantity(ctx, itemID, quantity)
	return nil
}

func (l *LocalCartSource) RemoveItem(ctx context.Context, itemID string) error {
	l.svc.RemoveItem(ctx, itemID)
	return nil
}

func (l *LocalCartSource) Clear(ctx context.Context) error {
	l.svc.ClearCart(ctx)
	return nil
}

func (l *LocalCartSource) ApplyPromo(ctx context.Context, promoCode string) error {
	return apperr.ErrSignInRequired
}

func (l *LocalCartSource) RemovePromo(ctx context.Context) error {
	return apperr.ErrSignInRequired
}

func (l *LocalCartSource) WalletBalance(ctx context.Context) (model.WalletBalance, error) {
	return model.WalletBalance{}, apperr.ErrSignInRequired
}

func (l *LocalCartSource) Checkout(ctx context.Context, req model.PaymentRequest) (model.PaymentRedirect, error) {
	return model.PaymentRedirect{}, apperr.ErrSignInRequired
}

func (l *LocalCartSource) PendingQuantity(itemID string) (int, bool) {
	return 0, false
}

// RemoteCartSource 綁定單一使用者的後端購物車
type RemoteCartSource struct {
	svc     IRemoteCartService
	session Session
}

func NewRemoteCartSource(svc IRemoteCartService, session Session) *RemoteCartSource {
	return &RemoteCartSource{svc: svc, session: session}
}

var _ CartSource = (*RemoteCartSource)(nil)

func (r *RemoteCartSource) Kind() model.SourceKind {
	return model.SourceRemote
}

func (r *RemoteCartSource) Owner() string {
	return r.session.Owner
}

func (r *RemoteCartSource) Session() Session {
	return r.session
}

func (r *RemoteCartSource) Cart(ctx context.Context) (model.Cart, error) {
	return r.svc.GetCart(ctx, r.session)
}

func (r *RemoteCartSource) AddItem(ctx context.Context, product model.Product, quantity int) error {
	_, err := r.svc.AddItem(ctx, r.session, product.ID, quantity)
	return err
}

// UpdateQuantity quantity <= 0 立即刪除，不經過延遲送出
func (r *RemoteCartSource) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return r.RemoveItem(ctx, itemID)
	}
	return r.svc.UpdateQuantity(ctx, r.session, itemID, quantity)
}

func (r *RemoteCartSource) RemoveItem(ctx context.Context, itemID string) error {
	_, err := r.svc.RemoveItem(ctx, r.session, itemID)
	return err
}

func (r *RemoteCartSource) Clear(ctx context.Context) error {
	return r.svc.RemoveCart(ctx, r.session)
}

func (r *RemoteCartSource) ApplyPromo(ctx context.Context, promoCode string) error {
	_, err := r.svc.ApplyPromo(ctx, r.session, promoCode)
	return err
}

func (r *RemoteCartSource) RemovePromo(ctx context.Context) error {
	_, err := r.svc.RemovePromo(ctx, r.session)
	return err
}

func (r *RemoteCartSource) WalletBalance(ctx context.Context) (model.WalletBalance, error) {
	return r.svc.WalletBalance(ctx, r.session)
}

func (r *RemoteCartSource) Checkout(ctx context.Context, req model.PaymentRequest) (model.PaymentRedirect, error) {
	return r.svc.InitiatePayment(ctx, r.session, req)
}

func (r *RemoteCartSource) PendingQuantity(itemID string) (int, bool) {
	return r.svc.PendingQuantity(r.session, itemID)
}
