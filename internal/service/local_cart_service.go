package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ILocalCartService 訪客購物車
// 所有操作同步完成並立即寫入 storage，storage 錯誤只記錄 log 不回傳，
// 讀取失敗一律視為空購物車
type ILocalCartService interface {
	Owner() string
	GetCart(ctx context.Context) model.Cart
	// AddItem 同商品累加數量，quantity <= 0 不做任何事
	AddItem(ctx context.Context, product model.Product, quantity int) model.Cart
	// UpdateQuantity quantity <= 0 等同 RemoveItem
	UpdateQuantity(ctx context.Context, itemID string, quantity int) model.Cart
	RemoveItem(ctx context.Context, itemID string) model.Cart
	ClearCart(ctx context.Context) model.Cart
	// SaveCart 以傳入的購物車覆蓋，聚合欄位重新計算
	SaveCart(ctx context.Context, cart model.Cart) model.Cart
	// Drain 在同一把鎖內取出全部項目並清空，寫入失敗時回傳空購物車
	Drain(ctx context.Context) model.Cart
	// MergeItems 把項目併回購物車，同商品累加數量
	MergeItems(ctx context.Context, items []model.CartItem) model.Cart
}

type LocalCartService struct {
	storage storage.Storage
	bus     *event.Bus
	owner   string
	key     string
	locker  *util.KeyedMutex
	logger  *zerolog.Logger
}

type LocalOption func(*LocalCartService)

func WithStorageKey(key string) LocalOption {
	return func(s *LocalCartService) {
		s.key = key
	}
}

// WithLocker 多個 service 實例共用同一把鎖，同一訪客的請求才會互斥
func WithLocker(locker *util.KeyedMutex) LocalOption {
	return func(s *LocalCartService) {
		s.locker = locker
	}
}

func WithLocalLogger(logger *zerolog.Logger) LocalOption {
	return func(s *LocalCartService) {
		s.logger = logger
	}
}

func NewLocalCartService(st storage.Storage, bus *event.Bus, owner string, opts ...LocalOption) *LocalCartService {
	if st == nil {
		panic("storage cannot be nil")
	}
	if bus == nil {
		panic("event bus cannot be nil")
	}
	nop := zerolog.Nop()
	s := &LocalCartService{
		storage: st,
		bus:     bus,
		owner:   owner,
		key:     constants.LocalCartStorageKey,
		locker:  util.NewKeyedMutex(1),
		logger:  &nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ILocalCartService = (*LocalCartService)(nil)

func (s *LocalCartService) Owner() string {
	return s.owner
}

func (s *LocalCartService) GetCart(ctx context.Context) model.Cart {
	unlock := s.locker.Lock(s.owner)
	defer unlock()
	return s.load(ctx)
}

func (s *LocalCartService) AddItem(ctx context.Context, product model.Product, quantity int) model.Cart {
	if quantity <= 0 {
		return s.GetCart(ctx)
	}
	return s.mutate(ctx, func(cart *model.Cart) {
		if i, ok := cart.FindProduct(product.ID); ok {
			cart.Items[i].Quantity += quantity
			return
		}
		cart.Items = append(cart.Items, model.CartItem{
			ID:              uuid.NewString(),
			ProductID:       product.ID,
			Name:            product.Name,
			ImageURL:        product.ImageURL,
			Quantity:        quantity,
			UnitPrice:       product.Price,
			ProductDiscount: product.Discount,
		})
	})
}

func (s *LocalCartService) UpdateQuantity(ctx context.Context, itemID string, quantity int) model.Cart {
	if quantity <= 0 {
		return s.RemoveItem(ctx, itemID)
	}
	return s.mutate(ctx, func(cart *model.Cart) {
		if i, ok := cart.FindItem(itemID); ok {
			cart.Items[i].Quantity = quantity
			model.DeriveItemTotals(&cart.Items[i])
		}
	})
}

func (s *LocalCartService) RemoveItem(ctx context.Context, itemID string) model.Cart {
	return s.mutate(ctx, func(cart *model.Cart) {
		kept := cart.Items[:0]
		for _, item := range cart.Items {
			if item.ID != itemID {
				kept = append(kept, item)
			}
		}
		cart.Items = kept
	})
}

func (s *LocalCartService) ClearCart(ctx context.Context) model.Cart {
	return s.mutate(ctx, func(cart *model.Cart) {
		*cart = model.EmptyCart()
	})
}

func (s *LocalCartService) SaveCart(ctx context.Context, cart model.Cart) model.Cart {
	next := sanitize(cart.Clone())
	return s.mutate(ctx, func(c *model.Cart) {
		*c = next
	})
}

func (s *LocalCartService) Drain(ctx context.Context) model.Cart {
	unlock := s.locker.Lock(s.owner)
	defer unlock()

	cart := s.load(ctx)
	if len(cart.Items) == 0 {
		return cart
	}
	empty := model.EmptyCart()
	if err := s.persist(ctx, empty); err != nil {
		s.logger.Error().Err(err).Str("owner", s.owner).Msg("failed to drain local cart")
		return model.EmptyCart()
	}
	s.bus.Publish(event.NewCartChangedEvent(s.owner, empty))
	return cart
}

func (s *LocalCartService) MergeItems(ctx context.Context, items []model.CartItem) model.Cart {
	if len(items) == 0 {
		return s.GetCart(ctx)
	}
	return s.mutate(ctx, func(cart *model.Cart) {
		for _, item := range items {
			if item.Quantity <= 0 {
				continue
			}
			if i, ok := cart.FindProduct(item.ProductID); ok {
				cart.Items[i].Quantity += item.Quantity
				continue
			}
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			cart.Items = append(cart.Items, item)
		}
	})
}

// mutate 讀取 -> 修改 -> 重算 -> 寫入 -> 通知
// 寫入失敗時不通知，回傳 storage 內實際的內容
func (s *LocalCartService) mutate(ctx context.Context, fn func(*model.Cart)) model.Cart {
	unlock := s.locker.Lock(s.owner)
	defer unlock()

	cart := s.load(ctx)
	fn(&cart)
	model.RecomputeTotals(&cart)

	if err := s.persist(ctx, cart); err != nil {
		s.logger.Error().Err(err).Str("owner", s.owner).Msg("failed to persist local cart")
		return s.load(ctx)
	}

	s.bus.Publish(event.NewCartChangedEvent(s.owner, cart))
	return cart.Clone()
}

func (s *LocalCartService) load(ctx context.Context) model.Cart {
	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Str("owner", s.owner).Msg("failed to read local cart, fallback to empty cart")
		}
		return model.EmptyCart()
	}

	var cart model.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		s.logger.Warn().Err(err).Str("owner", s.owner).Msg("corrupted local cart, fallback to empty cart")
		return model.EmptyCart()
	}

	cart = sanitize(cart)
	model.RecomputeTotals(&cart)
	return cart
}

func (s *LocalCartService) persist(ctx context.Context, cart model.Cart) error {
	b, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, s.key, b)
}

// sanitize 去除數量不合法與重複 id 的項目，訪客購物車沒有 promo
func sanitize(cart model.Cart) model.Cart {
	seen := make(map[string]struct{}, len(cart.Items))
	items := make([]model.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	return model.Cart{Items: items}
}
