package producer

import (
	"context"
	"encoding/json"

	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	EventTypeHeader = "event_type"
	EventIDHeader   = "event_id"
)

// ICartEventProducer 購物車事件轉送至 kafka，供下游服務訂閱
type ICartEventProducer interface {
	ProduceEvent(ctx context.Context, e event.Event) error
	// Attach 訂閱 bus 上所有事件，回傳取消訂閱函式
	Attach(bus *event.Bus) func()
}

// 需要根據 owner 做 balancer 分區
type CartEventProducer struct {
	producer Producer
	logger   *zerolog.Logger
}

func NewCartEventProducer(producer Producer, logger *zerolog.Logger) *CartEventProducer {
	if producer == nil {
		panic("producer cannot be nil")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CartEventProducer{producer: producer, logger: logger}
}

var _ ICartEventProducer = (*CartEventProducer)(nil)

func (c *CartEventProducer) ProduceEvent(ctx context.Context, e event.Event) error {
	msg, err := convertToMessage(e)
	if err != nil {
		return err
	}
	_, err = c.producer.Produce(ctx, []kafka.Message{msg})
	return err
}

func (c *CartEventProducer) Attach(bus *event.Bus) func() {
	return bus.Subscribe(func(e event.Event) {
		if err := c.ProduceEvent(context.Background(), e); err != nil {
			c.logger.Warn().Err(err).
				Str("event_type", string(e.Type())).
				Str("owner", e.Owner()).
				Msg("failed to forward cart event")
		}
	})
}

func convertToMessage(e event.Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.Owner()),
		Value: value,
		Headers: []kafka.Header{
			{Key: EventTypeHeader, Value: []byte(e.Type())},
			{Key: EventIDHeader, Value: []byte(e.GetID())},
		},
	}, nil
}
