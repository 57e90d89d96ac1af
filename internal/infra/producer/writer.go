package producer

import (
	"context"
	"errors"
	"hash/fnv"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

//go:generate mockgen -source=writer.go -destination=mock/mock_writer.go -package=mock_producer

// Writer *kafka.Writer 滿足此介面，測試時以 mock 取代
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     NewOwnerBalancer(cfg.Partitions),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.CommitInterval,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		// 重試由 BatchProducer 處理
		MaxAttempts: 1,
		Transport: &kafka.Transport{
			Dial: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

// OwnerBalancer 購物車事件以 owner 為 key，同一 owner 固定寫入同一 partition 保持順序
type OwnerBalancer struct {
	numPartitions int
}

func NewOwnerBalancer(numPartitions int) *OwnerBalancer {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	return &OwnerBalancer{numPartitions: numPartitions}
}

func (b *OwnerBalancer) Balance(msg kafka.Message, partitions ...int) int {
	h := fnv.New32a()
	h.Write(msg.Key)
	sum := int(h.Sum32() & 0x7fffffff)

	if len(partitions) != 0 {
		return partitions[sum%len(partitions)]
	}
	return sum % b.numPartitions
}

// isFatal 不可重試的錯誤，producer 需立即停止
func isFatal(err error) bool {
	return errors.Is(err, kafka.TopicAuthorizationFailed) ||
		errors.Is(err, kafka.GroupAuthorizationFailed) ||
		errors.Is(err, kafka.ClusterAuthorizationFailed) ||
		errors.Is(err, kafka.SASLAuthenticationFailed) ||
		errors.Is(err, kafka.UnknownTopicOrPartition) ||
		errors.Is(err, kafka.InvalidTopic)
}
