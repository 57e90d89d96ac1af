package constants

import "time"

const (
	// 訪客購物車在 storage 內的固定 key
	LocalCartStorageKey = "cart"

	CartChangedEventName    = "cart:changed"
	CartSyncFailedEventName = "cart:sync-failed"

	DefaultDebounceDelay  = 500 * time.Millisecond
	DefaultBackendTimeout = 10 * time.Second
	DefaultGuestCookie    = "guest_id"
	GuestCookieMaxAge     = 30 * 24 * time.Hour

	// 訪客購物車搬移失敗後的重試間隔
	DefaultMigrateRetryBackoff = 5 * time.Minute
)

// for api context
type ContextKey string

const (
	GuestIDKey     ContextKey = "guest_id"
	AuthStateKey   ContextKey = "auth_state"
	CartViewKey    ContextKey = "cart_view_model"
	OwnerKey       ContextKey = "cart_owner"
	BearerTokenKey ContextKey = "bearer_token"
)

type ENV string

const (
	Debug ENV = "debug"
	Dev   ENV = "development"
	Stag  ENV = "staging"
	Prod  ENV = "production"
)

type RequestID string

const (
	RequestIDKey RequestID = "request_id"
)

type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageRedis    StorageDriver = "redis"
	StoragePostgres StorageDriver = "postgres"
)

func IsValidStorageDriver(d string) bool {
	switch StorageDriver(d) {
	case StorageMemory, StorageRedis, StoragePostgres:
		return true
	default:
		return false
	}
}
