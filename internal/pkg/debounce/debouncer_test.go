package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	key string
	v   int
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) fn(ctx context.Context, key string, v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{key: key, v: v})
	return r.err
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call, len(r.calls))
	copy(out, r.calls)
	return out
}

// 連續 3 -> 4 -> 5 只送出一次 5
func TestDebouncer_CoalesceFlush(t *testing.T) {
	rec := &recorder{}
	d := New[int](time.Hour, rec.fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("item-1", 3))
	require.NoError(t, d.Schedule("item-1", 4))
	require.NoError(t, d.Schedule("item-1", 5))

	v, ok := d.Pending("item-1")
	require.True(t, ok)
	assert.Equal(t, 5, v)

	require.NoError(t, d.Flush(context.Background(), "item-1"))
	assert.Equal(t, []call{{key: "item-1", v: 5}}, rec.snapshot())

	_, ok = d.Pending("item-1")
	assert.False(t, ok)

	// 沒有待送值時 Flush 不呼叫
	require.NoError(t, d.Flush(context.Background(), "item-1"))
	assert.Len(t, rec.snapshot(), 1)
}

func TestDebouncer_CoalesceTimer(t *testing.T) {
	rec := &recorder{}
	d := New[int](30*time.Millisecond, rec.fn)
	defer d.Stop()

	for _, q := range []int{3, 4, 5} {
		require.NoError(t, d.Schedule("item-1", q))
	}

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []call{{key: "item-1", v: 5}}, rec.snapshot())
}

func TestDebouncer_KeysIndependent(t *testing.T) {
	rec := &recorder{}
	d := New[int](time.Hour, rec.fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("a", 1))
	require.NoError(t, d.Schedule("b", 2))
	require.NoError(t, d.Flush(context.Background(), "a"))

	assert.Equal(t, []call{{key: "a", v: 1}}, rec.snapshot())
	v, ok := d.Pending("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	require.NoError(t, d.FlushAll(context.Background()))
	assert.Len(t, rec.snapshot(), 2)
}

func TestDebouncer_Cancel(t *testing.T) {
	rec := &recorder{}
	d := New[int](20*time.Millisecond, rec.fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("a", 1))
	assert.True(t, d.Cancel("a"))
	assert.False(t, d.Cancel("a"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	_, ok := d.Pending("a")
	assert.False(t, ok)
}

func TestDebouncer_ResultCallback(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{err: boom}

	var gotKey string
	var gotV int
	var gotErr error
	d := New[int](time.Hour, rec.fn, WithResultFunc[int](func(key string, v int, err error) {
		gotKey, gotV, gotErr = key, v, err
	}))
	defer d.Stop()

	require.NoError(t, d.Schedule("a", 7))
	err := d.Flush(context.Background(), "a")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "a", gotKey)
	assert.Equal(t, 7, gotV)
	assert.ErrorIs(t, gotErr, boom)

	// 失敗後暫時值被丟棄
	_, ok := d.Pending("a")
	assert.False(t, ok)
}

// 同一 key 前一次呼叫未結束前，不會有第二個呼叫同時進行
func TestDebouncer_SingleInFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	release := make(chan struct{})
	var calls []int
	var mu sync.Mutex

	fn := func(ctx context.Context, key string, v int) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		if v == 1 {
			<-release
		}
		mu.Lock()
		calls = append(calls, v)
		mu.Unlock()
		active.Add(-1)
		return nil
	}
	d := New[int](time.Hour, fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("a", 1))
	done := make(chan error)
	go func() { done <- d.Flush(context.Background(), "a") }()

	require.Eventually(t, func() bool {
		v, ok := d.Pending("a")
		return ok && v == 1 && active.Load() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Schedule("a", 2))
	v, ok := d.Pending("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	second := make(chan error)
	go func() { second <- d.Flush(context.Background(), "a") }()

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDebouncer_Stop(t *testing.T) {
	rec := &recorder{}
	d := New[int](10*time.Millisecond, rec.fn)

	require.NoError(t, d.Schedule("a", 1))
	d.Stop()
	require.ErrorIs(t, d.Schedule("a", 2), ErrStopped)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.False(t, d.HasPending(""))
}

func TestDebouncer_HasPendingPrefix(t *testing.T) {
	d := New[int](time.Hour, (&recorder{}).fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("user:1|item-1", 1))
	assert.True(t, d.HasPending("user:1|"))
	assert.False(t, d.HasPending("user:2|"))
}

func TestDebouncer_PrefixOps(t *testing.T) {
	rec := &recorder{}
	d := New[int](time.Hour, rec.fn)
	defer d.Stop()

	require.NoError(t, d.Schedule("u1|a", 1))
	require.NoError(t, d.Schedule("u1|b", 2))
	require.NoError(t, d.Schedule("u2|a", 3))

	require.NoError(t, d.FlushPrefix(context.Background(), "u1|"))
	assert.Len(t, rec.snapshot(), 2)

	assert.Equal(t, 1, d.CancelPrefix("u2|"))
	assert.False(t, d.HasPending(""))
	assert.Len(t, rec.snapshot(), 2)
}
