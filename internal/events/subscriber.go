package events

import (
	"context"

	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/kafka"
)

// Handler is invoked for each cluster event an external consumer reads
// off the bus.
type Handler func(ctx context.Context, event ClusterEvent) error

// NewConsumer builds a pkg/kafka.Consumer on cfg.EventsTopic that decodes
// each message as a ClusterEvent before calling handler.
func NewConsumer(cfg config.KafkaConfig, handler Handler) *kafka.Consumer {
	return kafka.NewConsumer(cfg, cfg.EventsTopic, func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[ClusterEvent](value)
		if err != nil {
			return err
		}
		return handler(ctx, event)
	})
}
