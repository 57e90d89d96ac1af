package event

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type Listener func(Event)

type subscription struct {
	owner    string // 空字串表示訂閱所有擁有者
	listener Listener
}

// Bus 明確的訂閱清單，同步派送
// 每個 listener 拿到的是各自的 snapshot，互不影響
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	logger *zerolog.Logger
}

type BusOption func(*Bus)

func WithBusLogger(logger *zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func NewBus(opts ...BusOption) *Bus {
	nop := zerolog.Nop()
	b := &Bus{
		subs:   make(map[uint64]subscription),
		logger: &nop,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe 訂閱所有事件，回傳取消訂閱函式
func (b *Bus) Subscribe(l Listener) func() {
	return b.SubscribeOwner("", l)
}

// SubscribeOwner 只接收特定擁有者的事件
func (b *Bus) SubscribeOwner(owner string, l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{owner: owner, listener: l}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.owner == "" || s.owner == e.Owner() {
			targets = append(targets, s.listener)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(l, e.Snapshot())
	}
}

// listener panic 不影響其他 listener 與呼叫端
func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", string(e.Type())).
				Str("event_id", e.GetID()).
				Str("error", fmt.Sprintf("%v", r)).
				Msg("event listener panic")
		}
	}()
	l(e)
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
