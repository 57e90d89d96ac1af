package producer

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("invalid producer config")

// Config 購物車事件 topic 的 producer 設定
type Config struct {
	Brokers []string
	Topic   string

	Partitions   int
	RequiredAcks int

	// BatchSize buffer 達到數量立即送出，否則等 CommitInterval
	BatchSize      int
	CommitInterval time.Duration
	WriteTimeout   time.Duration
	RetryLimit     int
	RetryDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Partitions:     6,
		RequiredAcks:   1,
		BatchSize:      100,
		CommitInterval: 200 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		RetryLimit:     3,
		RetryDelay:     200 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return ErrInvalidConfig
	}
	if c.BatchSize <= 0 || c.CommitInterval <= 0 || c.RetryLimit <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
