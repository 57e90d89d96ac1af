package event

import (
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/google/uuid"
)

type EventType string

const (
	CartChangedEventName    EventType = constants.CartChangedEventName
	CartSyncFailedEventName EventType = constants.CartSyncFailedEventName
)

type BaseEvent struct {
	EventID     string    `json:"event_id"`
	AggregateID string    `json:"aggregate_id"` // 購物車擁有者 (guest:<id> 或 user:<token hash>)
	CreatedAt   time.Time `json:"created_at"`
	EventType   EventType `json:"event_type"`
}

func newBaseEvent(owner string, t EventType) BaseEvent {
	return BaseEvent{
		EventID:     uuid.NewString(),
		AggregateID: owner,
		CreatedAt:   time.Now().UTC(),
		EventType:   t,
	}
}

func (e *BaseEvent) GetID() string {
	return e.EventID
}

func (e *BaseEvent) Owner() string {
	return e.AggregateID
}

type Event interface {
	Type() EventType
	GetID() string
	Owner() string
	// Snapshot 給 listener 的唯讀副本
	Snapshot() Event
}

// CartChangedEvent 訪客購物車每次異動後發出
type CartChangedEvent struct {
	BaseEvent
	Cart model.Cart `json:"cart"`
}

func NewCartChangedEvent(owner string, cart model.Cart) *CartChangedEvent {
	return &CartChangedEvent{
		BaseEvent: newBaseEvent(owner, CartChangedEventName),
		Cart:      cart.Clone(),
	}
}

func (e *CartChangedEvent) Type() EventType {
	return CartChangedEventName
}

func (e *CartChangedEvent) Snapshot() Event {
	c := *e
	c.Cart = e.Cart.Clone()
	return &c
}

// CartSyncFailedEvent 延遲送出的數量更新失敗，畫面上的暫時數量已回滾
type CartSyncFailedEvent struct {
	BaseEvent
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
	Message  string `json:"message"`
}

func NewCartSyncFailedEvent(owner, itemID string, quantity int, message string) *CartSyncFailedEvent {
	return &CartSyncFailedEvent{
		BaseEvent: newBaseEvent(owner, CartSyncFailedEventName),
		ItemID:    itemID,
		Quantity:  quantity,
		Message:   message,
	}
}

func (e *CartSyncFailedEvent) Type() EventType {
	return CartSyncFailedEventName
}

func (e *CartSyncFailedEvent) Snapshot() Event {
	c := *e
	return &c
}
