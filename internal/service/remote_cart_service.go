package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/debounce"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Session 已登入使用者的身分，token 只轉送給後端不做驗證
type Session struct {
	Token string
	Owner string
}

// NewSession owner 以 token 雜湊表示，避免 token 出現在 log 與事件內
func NewSession(token string) Session {
	sum := sha256.Sum256([]byte(token))
	return Session{Token: token, Owner: "user:" + hex.EncodeToString(sum[:8])}
}

// IRemoteCartService 已登入購物車，直接轉送後端，不在本地計算聚合欄位
// 錯誤:
//   - *backend.APIError: 後端訊息，可直接顯示
//   - apperr.ErrSignInRequired: 後端回應 401/403
type IRemoteCartService interface {
	GetCart(ctx context.Context, s Session) (model.Cart, error)
	AddItem(ctx context.Context, s Session, productID string, quantity int) (model.Cart, error)
	// UpdateQuantity 延遲送出，同一 item 在延遲內的變更只送最後一次
	UpdateQuantity(ctx context.Context, s Session, itemID string, quantity int) error
	PendingQuantity(s Session, itemID string) (int, bool)
	HasPending(s Session) bool
	Flush(ctx context.Context, s Session, itemID string) error
	FlushAll(ctx context.Context) error
	Cancel(s Session, itemID string) bool
	RemoveItem(ctx context.Context, s Session, itemID string) (model.Cart, error)
	RemoveCart(ctx context.Context, s Session) error
	ApplyPromo(ctx context.Context, s Session, promoCode string) (model.Cart, error)
	RemovePromo(ctx context.Context, s Session) (model.Cart, error)
	WalletBalance(ctx context.Context, s Session) (model.WalletBalance, error)
	InitiatePayment(ctx context.Context, s Session, req model.PaymentRequest) (model.PaymentRedirect, error)
	Close(ctx context.Context) error
}

type pendingUpdate struct {
	session  Session
	itemID   string
	quantity int
}

// RemoteCartService 所有已登入使用者共用一個實例，延遲送出表以 owner|itemID 為 key
type RemoteCartService struct {
	client    backend.IClient
	bus       *event.Bus
	debouncer *debounce.Debouncer[pendingUpdate]
	group     singleflight.Group
	delay     time.Duration
	logger    *zerolog.Logger
}

type RemoteOption func(*RemoteCartService)

func WithDebounceDelay(d time.Duration) RemoteOption {
	return func(s *RemoteCartService) {
		s.delay = d
	}
}

func WithRemoteLogger(logger *zerolog.Logger) RemoteOption {
	return func(s *RemoteCartService) {
		s.logger = logger
	}
}

func NewRemoteCartService(client backend.IClient, bus *event.Bus, opts ...RemoteOption) *RemoteCartService {
	if client == nil {
		panic("backend client cannot be nil")
	}
	if bus == nil {
		panic("event bus cannot be nil")
	}
	nop := zerolog.Nop()
	s := &RemoteCartService{
		client: client,
		bus:    bus,
		delay:  constants.DefaultDebounceDelay,
		logger: &nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debouncer = debounce.New[pendingUpdate](s.delay, s.sendQuantity,
		debounce.WithResultFunc[pendingUpdate](s.onQuantityResult))
	return s
}

var _ IRemoteCartService = (*RemoteCartService)(nil)

func debounceKey(s Session, itemID string) string {
	return s.Owner + "|" + itemID
}

func (r *RemoteCartService) GetCart(ctx context.Context, s Session) (model.Cart, error) {
	return r.client.GetCart(ctx, s.Token)
}

func (r *RemoteCartService) AddItem(ctx context.Context, s Session, productID string, quantity int) (model.Cart, error) {
	if quantity <= 0 {
		return r.GetCart(ctx, s)
	}
	cart, err := r.client.AddItem(ctx, s.Token, productID, quantity)
	return r.orRefetch(ctx, s, cart, err)
}

func (r *RemoteCartService) UpdateQuantity(ctx context.Context, s Session, itemID string, quantity int) error {
	return r.debouncer.Schedule(debounceKey(s, itemID), pendingUpdate{
		session:  s,
		itemID:   itemID,
		quantity: quantity,
	})
}

func (r *RemoteCartService) PendingQuantity(s Session, itemID string) (int, bool) {
	p, ok := r.debouncer.Pending(debounceKey(s, itemID))
	if !ok {
		return 0, false
	}
	return p.quantity, true
}

func (r *RemoteCartService) HasPending(s Session) bool {
	return r.debouncer.HasPending(s.Owner + "|")
}

func (r *RemoteCartService) Flush(ctx context.Context, s Session, itemID string) error {
	return r.debouncer.Flush(ctx, debounceKey(s, itemID))
}

func (r *RemoteCartService) FlushAll(ctx context.Context) error {
	return r.debouncer.FlushAll(ctx)
}

func (r *RemoteCartService) Cancel(s Session, itemID string) bool {
	return r.debouncer.Cancel(debounceKey(s, itemID))
}

func (r *RemoteCartService) RemoveItem(ctx context.Context, s Session, itemID string) (model.Cart, error) {
	r.debouncer.Cancel(debounceKey(s, itemID))
	cart, err := r.client.RemoveItem(ctx, s.Token, itemID)
	return r.orRefetch(ctx, s, cart, err)
}

func (r *RemoteCartService) RemoveCart(ctx context.Context, s Session) error {
	r.debouncer.CancelPrefix(s.Owner + "|")
	return r.client.RemoveCart(ctx, s.Token)
}

// ApplyPromo 先送出尚未送出的數量變更，回傳的總額才會正確
// 同一使用者同時送出相同 promo code 只會呼叫一次後端
func (r *RemoteCartService) ApplyPromo(ctx context.Context, s Session, promoCode string) (model.Cart, error) {
	if promoCode == "" {
		return model.Cart{}, apperr.New(apperr.BadRequestCode, "promo code is required")
	}
	v, err, _ := r.group.Do(s.Owner+"|promo|"+promoCode, func() (any, error) {
		if err := r.debouncer.FlushPrefix(ctx, s.Owner+"|"); err != nil {
			r.logger.Warn().Err(err).Str("owner", s.Owner).Msg("pending quantity update failed before applying promo")
		}
		cart, err := r.client.ApplyPromo(ctx, s.Token, promoCode)
		return r.orRefetch(ctx, s, cart, err)
	})
	if err != nil {
		return model.Cart{}, err
	}
	return v.(model.Cart).Clone(), nil
}

func (r *RemoteCartService) RemovePromo(ctx context.Context, s Session) (model.Cart, error) {
	cart, err := r.client.RemovePromo(ctx, s.Token)
	return r.orRefetch(ctx, s, cart, err)
}

func (r *RemoteCartService) WalletBalance(ctx context.Context, s Session) (model.WalletBalance, error) {
	return r.client.WalletBalance(ctx, s.Token)
}

// InitiatePayment 取得第三方付款導向網址，重複送出會共用同一個結果
func (r *RemoteCartService) InitiatePayment(ctx context.Context, s Session, req model.PaymentRequest) (model.PaymentRedirect, error) {
	if !req.Method.IsValid() {
		return model.PaymentRedirect{}, apperr.New(apperr.BadRequestCode, "unsupported payment method")
	}
	v, err, _ := r.group.Do(s.Owner+"|checkout", func() (any, error) {
		if err := r.debouncer.FlushPrefix(ctx, s.Owner+"|"); err != nil {
			return nil, err
		}
		return r.client.InitiatePayment(ctx, s.Token, req)
	})
	if err != nil {
		return model.PaymentRedirect{}, err
	}
	return v.(model.PaymentRedirect), nil
}

// Close 送出剩餘的數量變更後停止計時器
func (r *RemoteCartService) Close(ctx context.Context) error {
	err := r.debouncer.FlushAll(ctx)
	r.debouncer.Stop()
	return err
}

func (r *RemoteCartService) sendQuantity(ctx context.Context, key string, p pendingUpdate) error {
	_, err := r.client.UpdateQuantity(ctx, p.session.Token, p.itemID, p.quantity)
	return err
}

// 失敗時暫時數量已被丟棄，通知畫面回到後端的數量
func (r *RemoteCartService) onQuantityResult(key string, p pendingUpdate, err error) {
	if err == nil {
		r.logger.Debug().Str("owner", p.session.Owner).Str("item_id", p.itemID).Int("quantity", p.quantity).Msg("quantity update synced")
		return
	}
	r.logger.Error().Err(err).Str("owner", p.session.Owner).Str("item_id", p.itemID).Int("quantity", p.quantity).Msg("quantity update failed, rolled back")

	message := "failed to update quantity"
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}
	r.bus.Publish(event.NewCartSyncFailedEvent(p.session.Owner, p.itemID, p.quantity, message))
}

// 寫入類 API 沒有回傳購物車時重新讀取
func (r *RemoteCartService) orRefetch(ctx context.Context, s Session, cart *model.Cart, err error) (model.Cart, error) {
	if err != nil {
		return model.Cart{}, err
	}
	if cart != nil {
		return *cart, nil
	}
	return r.client.GetCart(ctx, s.Token)
}
