package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// MigrationResult 訪客購物車搬移結果
type MigrationResult struct {
	Migrated int
	Failed   []model.CartItem
	Cart     model.Cart
	// Skipped 上次搬移失敗仍在等待重試
	Skipped bool
}

// ICartMigrator 登入後把訪客購物車加入後端購物車，需呼叫端明確觸發
type ICartMigrator interface {
	Migrate(ctx context.Context, local ILocalCartService, s Session) (MigrationResult, error)
}

type CartMigrator struct {
	remote       IRemoteCartService
	logger       *zerolog.Logger
	group        singleflight.Group
	retryBackoff time.Duration
	now          func() time.Time

	mu         sync.Mutex
	retryAfter map[string]time.Time
}

type MigratorOption func(*CartMigrator)

// WithRetryBackoff 有項目搬移失敗後，同一訪客在 d 內不再重試
func WithRetryBackoff(d time.Duration) MigratorOption {
	return func(m *CartMigrator) {
		if d >= 0 {
			m.retryBackoff = d
		}
	}
}

func NewCartMigrator(remote IRemoteCartService, logger *zerolog.Logger, opts ...MigratorOption) *CartMigrator {
	if remote == nil {
		panic("remote cart service cannot be nil")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &CartMigrator{
		remote:       remote,
		logger:       logger,
		retryBackoff: constants.DefaultMigrateRetryBackoff,
		now:          time.Now,
		retryAfter:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ ICartMigrator = (*CartMigrator)(nil)

/*
Migrate 同一訪客同時只會有一次搬移，同時進來的呼叫共用結果
  - 訪客購物車在鎖內取出並清空，其他請求不會再搬同一批項目
  - 逐一加入後端，不中斷
  - 失敗的項目併回訪客購物車，retryBackoff 內不再重試
*/
func (m *CartMigrator) Migrate(ctx context.Context, local ILocalCartService, s Session) (MigrationResult, error) {
	guest := local.Owner()
	if m.waiting(guest) {
		return MigrationResult{Skipped: true}, nil
	}

	v, err, _ := m.group.Do(guest, func() (interface{}, error) {
		return m.migrate(ctx, local, s)
	})
	result, _ := v.(MigrationResult)
	return result, err
}

func (m *CartMigrator) migrate(ctx context.Context, local ILocalCartService, s Session) (MigrationResult, error) {
	guest := local.Owner()
	drained := local.Drain(ctx)
	result := MigrationResult{}
	if len(drained.Items) == 0 {
		return result, nil
	}

	var errs []error
	for _, item := range drained.Items {
		if _, err := m.remote.AddItem(ctx, s, item.ProductID, item.Quantity); err != nil {
			result.Failed = append(result.Failed, item)
			errs = append(errs, fmt.Errorf("migrate product %s: %w", item.ProductID, err))
			continue
		}
		result.Migrated++
	}

	if len(result.Failed) > 0 {
		local.MergeItems(ctx, result.Failed)
		m.backoff(guest)
	}

	m.logger.Info().
		Str("guest", guest).
		Str("owner", s.Owner).
		Int("migrated", result.Migrated).
		Int("failed", len(result.Failed)).
		Msg("guest cart migrated")

	cart, err := m.remote.GetCart(ctx, s)
	if err != nil {
		errs = append(errs, err)
	}
	result.Cart = cart
	return result, errors.Join(errs...)
}

func (m *CartMigrator) waiting(guest string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.retryAfter[guest]
	if !ok {
		return false
	}
	if m.now().Before(until) {
		return true
	}
	delete(m.retryAfter, guest)
	return false
}

func (m *CartMigrator) backoff(guest string) {
	if m.retryBackoff <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.retryAfter[guest] = now.Add(m.retryBackoff)
	// 順便清掉過期的紀錄
	for k, until := range m.retryAfter {
		if !now.Before(until) {
			delete(m.retryAfter, k)
		}
	}
}
