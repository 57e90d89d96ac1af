package service

import (
	"context"

	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/util"
	"github.com/rs/zerolog"
)

// ICartSourceFactory 依請求的 cookie 建立 CartSource
type ICartSourceFactory interface {
	Resolve(a Authenticator, guestID string) CartSource
	Local(guestID string) ILocalCartService
}

// CartSourceFactory 訪客購物車共用同一個 storage，以 guest namespace 隔離
type CartSourceFactory struct {
	storage storage.Storage
	bus     *event.Bus
	remote  IRemoteCartService
	locker  *util.KeyedMutex
	logger  *zerolog.Logger
}

func NewCartSourceFactory(st storage.Storage, bus *event.Bus, remote IRemoteCartService, logger *zerolog.Logger) *CartSourceFactory {
	if st == nil {
		panic("storage cannot be nil")
	}
	if bus == nil {
		panic("event bus cannot be nil")
	}
	if remote == nil {
		panic("remote cart service cannot be nil")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CartSourceFactory{
		storage: st,
		bus:     bus,
		remote:  remote,
		locker:  util.NewKeyedMutex(0),
		logger:  logger,
	}
}

var _ ICartSourceFactory = (*CartSourceFactory)(nil)

func (f *CartSourceFactory) Resolve(a Authenticator, guestID string) CartSource {
	return NewCartSource(a,
		func() CartSource {
			return NewLocalCartSource(f.Local(guestID))
		},
		func(token string) CartSource {
			return NewRemoteCartSource(f.remote, NewSession(token))
		},
	)
}

func (f *CartSourceFactory) Local(guestID string) ILocalCartService {
	ns := storage.GuestNamespace(guestID)
	return NewLocalCartService(
		storage.NewScopedStorage(f.storage, ns),
		f.bus,
		ns,
		WithLocker(f.locker),
		WithLocalLogger(f.logger),
	)
}

// HasGuestItems 訪客購物車是否有商品，登入後決定是否需要搬移
func HasGuestItems(ctx context.Context, local ILocalCartService) bool {
	return len(local.GetCart(ctx).Items) > 0
}
