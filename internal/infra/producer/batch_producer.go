package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var (
	ErrProducerClosed = errors.New("producer is closed")
	ErrBufferFull     = errors.New("producer buffer is full")
)

// Producer 寫入固定 topic，由 Config.Topic 設置
type Producer interface {
	// Produce 非同步，buffer 已滿時回傳未送出的訊息
	Produce(ctx context.Context, msgs []kafka.Message) ([]kafka.Message, error)
	Close(wait time.Duration) error
}

type ProducerError struct {
	Message kafka.Message
	Err     error
}

type Option func(*BatchProducer)

func WithSuccessHandler(f func(kafka.Message)) Option {
	return func(p *BatchProducer) {
		p.onSuccess = f
	}
}

func WithFailedHandler(f func(ProducerError)) Option {
	return func(p *BatchProducer) {
		p.onFailed = f
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(p *BatchProducer) {
		p.logger = logger
	}
}

// BatchProducer 單一 goroutine 依數量或時間批次送出
// 多個呼叫端可同時 Produce
type BatchProducer struct {
	isRunning  atomic.Bool
	buffer     []kafka.Message
	cfg        Config
	writer     Writer
	onSuccess  func(kafka.Message)
	onFailed   func(ProducerError)
	receiverCh chan []kafka.Message
	isStopped  chan struct{}
	chanMutex  sync.RWMutex
	closeOnce  sync.Once
	logger     *zerolog.Logger
}

func NewBatchProducer(w Writer, cfg Config, opts ...Option) (*BatchProducer, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: writer is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nop := zerolog.Nop()
	p := &BatchProducer{
		writer: w,
		cfg:    cfg,
		logger: &nop,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

var _ Producer = (*BatchProducer)(nil)

func (p *BatchProducer) Start() {
	if !p.isRunning.CompareAndSwap(false, true) {
		return
	}
	p.buffer = make([]kafka.Message, 0, p.cfg.BatchSize)
	p.receiverCh = make(chan []kafka.Message, p.cfg.BatchSize)
	p.isStopped = make(chan struct{})
	go p.produce()
}

func (p *BatchProducer) Produce(ctx context.Context, msgs []kafka.Message) ([]kafka.Message, error) {
	p.chanMutex.RLock()
	defer p.chanMutex.RUnlock()
	if !p.isRunning.Load() {
		return msgs, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	select {
	case p.receiverCh <- msgs:
		return nil, nil
	case <-ctx.Done():
		return msgs, ctx.Err()
	default:
		p.logger.Warn().Int("count", len(msgs)).Msg("kafka producer buffer is full, drop msgs")
		return msgs, ErrBufferFull
	}
}

// 結束條件為 receiverCh 關閉且 buffer 清空
func (p *BatchProducer) produce() {
	defer close(p.isStopped)
	p.logger.Info().Str("topic", p.cfg.Topic).Msg("kafka producer start")

	ticker := time.NewTicker(p.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case msgs, ok := <-p.receiverCh:
			if !ok {
				p.flush()
				p.logger.Info().Str("topic", p.cfg.Topic).Msg("kafka producer end")
				return
			}
			p.buffer = append(p.buffer, msgs...)
			if len(p.buffer) < p.cfg.BatchSize {
				continue
			}
			if fatal := p.flush(); fatal {
				p.abort()
				return
			}
			ticker.Reset(p.cfg.CommitInterval)
		case <-ticker.C:
			if fatal := p.flush(); fatal {
				p.abort()
				return
			}
		}
	}
}

// flush 送出 buffer 內所有訊息，回傳是否為致命錯誤
func (p *BatchProducer) flush() bool {
	if len(p.buffer) == 0 {
		return false
	}
	defer func() { p.buffer = p.buffer[:0] }()

	err := p.process()
	if err == nil {
		if p.onSuccess != nil {
			for _, msg := range p.buffer {
				p.onSuccess(msg)
			}
		}
		return false
	}
	p.handleFailed(p.buffer, err)
	return isFatal(err)
}

// process 失敗重試，間隔以 RetryDelay 指數成長
func (p *BatchProducer) process() error {
	var err error
	for i := 0; i < p.cfg.RetryLimit; i++ {
		if err = p.send(); err == nil {
			return nil
		}
		p.logger.Error().Err(err).Int("attempt", i+1).Int("count", len(p.buffer)).Msg("kafka producer write failed")
		if isFatal(err) {
			return err
		}
		if i < p.cfg.RetryLimit-1 {
			time.Sleep(p.cfg.RetryDelay * time.Duration(1<<i))
		}
	}
	return fmt.Errorf("producer retry limit reached: %w", err)
}

func (p *BatchProducer) send() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, p.buffer...)
}

func (p *BatchProducer) handleFailed(msgs []kafka.Message, err error) {
	if p.onFailed == nil {
		return
	}
	for _, msg := range msgs {
		p.onFailed(ProducerError{Message: msg, Err: err})
	}
}

// abort 致命錯誤後停止接收，channel 內剩餘訊息全部視為失敗
func (p *BatchProducer) abort() {
	p.logger.Error().Str("topic", p.cfg.Topic).Msg("kafka producer stopped by fatal error")
	p.closeChan()
	for msgs := range p.receiverCh {
		p.handleFailed(msgs, ErrProducerClosed)
	}
}

func (p *BatchProducer) closeChan() bool {
	if !p.isRunning.CompareAndSwap(true, false) {
		return false
	}
	p.chanMutex.Lock()
	close(p.receiverCh)
	p.chanMutex.Unlock()
	return true
}

// Close 停止接收並等待剩餘訊息送出，超過 wait 時剩餘訊息可能遺失
func (p *BatchProducer) Close(wait time.Duration) error {
	var err error
	p.closeChan()
	if p.isStopped != nil {
		select {
		case <-p.isStopped:
		case <-time.After(wait):
			err = errors.New("producer not closed within wait time, some msgs may be lost")
		}
	}

	p.closeOnce.Do(func() {
		err = errors.Join(err, p.writer.Close())
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("kafka producer close")
	}
	return err
}

// C 內部程序結束時關閉
func (p *BatchProducer) C() <-chan struct{} {
	return p.isStopped
}
