package debounce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrStopped = errors.New("debouncer is stopped")

// Func 實際送出的動作
type Func[V any] func(ctx context.Context, key string, v V) error

// ResultFunc 每次送出後的回呼，err 為 nil 代表成功
type ResultFunc[V any] func(key string, v V, err error)

type entry[V any] struct {
	callMu sync.Mutex // 同一個 key 同時只會有一個呼叫在進行

	timer      *time.Timer
	gen        uint64
	pending    V
	hasPending bool
	inFlight   bool
	inFlightV  V
	refs       int
}

/*
Debouncer 以 key 為單位的延遲送出表
  - Schedule 在延遲時間內重複呼叫只保留最後一個值
  - 同一 key 前一次呼叫尚未結束時，下一次呼叫會等待
  - Flush / Cancel 可讓測試不依賴真實時間
*/
type Debouncer[V any] struct {
	delay    time.Duration
	fn       Func[V]
	onResult ResultFunc[V]
	baseCtx  context.Context

	mu      sync.Mutex
	entries map[string]*entry[V]
	seq     uint64
	stopped bool
}

type Option[V any] func(*Debouncer[V])

func WithResultFunc[V any](f ResultFunc[V]) Option[V] {
	return func(d *Debouncer[V]) {
		d.onResult = f
	}
}

// WithContext 計時器觸發時送出使用的 context
func WithContext[V any](ctx context.Context) Option[V] {
	return func(d *Debouncer[V]) {
		d.baseCtx = ctx
	}
}

func New[V any](delay time.Duration, fn Func[V], opts ...Option[V]) *Debouncer[V] {
	d := &Debouncer[V]{
		delay:   delay,
		fn:      fn,
		baseCtx: context.Background(),
		entries: make(map[string]*entry[V]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule 設定 key 的待送值並重新計時
func (d *Debouncer[V]) Schedule(key string, v V) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	e, ok := d.entries[key]
	if !ok {
		e = &entry[V]{}
		d.entries[key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	d.seq++
	e.gen = d.seq
	e.pending = v
	e.hasPending = true

	gen := e.gen
	e.timer = time.AfterFunc(d.delay, func() {
		d.run(d.baseCtx, key, gen)
	})
	return nil
}

// Pending 尚未確認的值，待送值優先，其次為進行中的值
func (d *Debouncer[V]) Pending(key string) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero V
	e, ok := d.entries[key]
	if !ok {
		return zero, false
	}
	if e.hasPending {
		return e.pending, true
	}
	if e.inFlight {
		return e.inFlightV, true
	}
	return zero, false
}

// HasPending 以 prefix 開頭的 key 是否有尚未確認的值
func (d *Debouncer[V]) HasPending(prefix string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, e := range d.entries {
		if strings.HasPrefix(k, prefix) && (e.hasPending || e.inFlight) {
			return true
		}
	}
	return false
}

// Flush 立即送出 key 的待送值並等待結果，沒有待送值時回傳 nil
func (d *Debouncer[V]) Flush(ctx context.Context, key string) error {
	_, _, err := d.run(ctx, key, 0)
	return err
}

func (d *Debouncer[V]) FlushAll(ctx context.Context) error {
	return d.FlushPrefix(ctx, "")
}

// FlushPrefix 送出所有以 prefix 開頭的 key
func (d *Debouncer[V]) FlushPrefix(ctx context.Context, prefix string) error {
	var errs error
	for _, k := range d.keys(prefix) {
		if err := d.Flush(ctx, k); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (d *Debouncer[V]) keys(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Cancel 丟棄待送值，進行中的呼叫不受影響
func (d *Debouncer[V]) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok || !e.hasPending {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	var zero V
	e.pending = zero
	e.hasPending = false
	d.cleanup(key, e)
	return true
}

// CancelPrefix 丟棄所有以 prefix 開頭的待送值，回傳丟棄數量
func (d *Debouncer[V]) CancelPrefix(prefix string) int {
	n := 0
	for _, k := range d.keys(prefix) {
		if d.Cancel(k) {
			n++
		}
	}
	return n
}

// Stop 取消所有計時器，之後 Schedule 回傳 ErrStopped
// 需要送出剩餘值請先呼叫 FlushAll
func (d *Debouncer[V]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		var zero V
		e.pending = zero
		e.hasPending = false
		d.cleanup(k, e)
	}
}

// gen 為 0 表示不檢查世代 (Flush)
func (d *Debouncer[V]) run(ctx context.Context, key string, gen uint64) (V, bool, error) {
	var zero V

	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return zero, false, nil
	}
	e.refs++
	d.mu.Unlock()

	e.callMu.Lock()
	defer e.callMu.Unlock()

	d.mu.Lock()
	// 過期的計時器，較新的值有自己的計時器
	if !e.hasPending || (gen != 0 && gen != e.gen) {
		e.refs--
		d.cleanup(key, e)
		d.mu.Unlock()
		return zero, false, nil
	}
	v := e.pending
	e.pending = zero
	e.hasPending = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.inFlight = true
	e.inFlightV = v
	d.mu.Unlock()

	err := d.fn(ctx, key, v)

	d.mu.Lock()
	e.inFlight = false
	e.inFlightV = zero
	e.refs--
	d.cleanup(key, e)
	d.mu.Unlock()

	if d.onResult != nil {
		d.onResult(key, v, err)
	}
	return v, true, err
}

// 呼叫端需持有 d.mu
func (d *Debouncer[V]) cleanup(key string, e *entry[V]) {
	if e.refs == 0 && !e.hasPending && !e.inFlight && e.timer == nil {
		if cur, ok := d.entries[key]; ok && cur == e {
			delete(d.entries, key)
		}
	}
}
