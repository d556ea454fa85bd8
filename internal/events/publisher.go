package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/katta-cluster/katta/pkg/kafka"
)

// Publisher buffers cluster events in-memory and publishes them to Kafka
// asynchronously. If the internal channel fills up, events are dropped
// with a warning log rather than blocking the Master's reducer goroutine
// that called Publish.
type Publisher struct {
	producer *kafka.Producer
	eventCh  chan ClusterEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewPublisher creates a Publisher with the given Kafka producer and
// channel buffer size. If bufferSize <= 0 it defaults to 10000.
func NewPublisher(producer *kafka.Producer, bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Publisher{
		producer: producer,
		eventCh:  make(chan ClusterEvent, bufferSize),
		logger:   slog.Default().With("component", "event-publisher"),
		done:     make(chan struct{}),
	}
}

// Start begins the background goroutine that drains the event channel to
// Kafka. It stops when ctx is cancelled, publishing any remaining
// buffered events before returning.
func (p *Publisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case event, ok := <-p.eventCh:
				if !ok {
					return
				}
				p.send(ctx, event)
			case <-ctx.Done():
				p.drainRemaining()
				return
			}
		}
	}()
	p.logger.Info("event publisher started", "buffer_size", cap(p.eventCh))
}

// Publish satisfies master.EventPublisher. It is non-blocking: if the
// internal buffer is full the event is dropped, with a warning log, rather
// than stalling the caller's reducer loop.
func (p *Publisher) Publish(ctx context.Context, eventType, subject, detail string) {
	event := ClusterEvent{
		Type:      Type(eventType),
		Subject:   subject,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	select {
	case p.eventCh <- event:
	default:
		p.logger.Warn("cluster event dropped (buffer full)", "type", eventType, "subject", subject)
	}
}

// Close shuts down the publisher by closing the event channel and
// waiting for the background goroutine to finish draining.
func (p *Publisher) Close() {
	close(p.eventCh)
	<-p.done
}

func (p *Publisher) send(ctx context.Context, event ClusterEvent) {
	if err := p.producer.Publish(ctx, kafka.Event{
		Key:   string(event.Type),
		Value: event,
	}); err != nil {
		p.logger.Error("failed to publish cluster event", "type", event.Type, "error", err)
	}
}

func (p *Publisher) drainRemaining() {
	for {
		select {
		case event, ok := <-p.eventCh:
			if !ok {
				return
			}
			p.send(context.Background(), event)
		default:
			return
		}
	}
}
