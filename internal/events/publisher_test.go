package events

import (
	"context"
	"log/slog"
	"testing"
)

func TestPublisher_PublishDropsWhenBufferFull(t *testing.T) {
	p := &Publisher{
		eventCh: make(chan ClusterEvent, 1),
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	p.Publish(context.Background(), string(TypeNodeJoined), "node-0", "")
	p.Publish(context.Background(), string(TypeNodeLeft), "node-1", "")

	if len(p.eventCh) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(p.eventCh))
	}
}

func TestPublisher_PublishSetsTimestampAndFields(t *testing.T) {
	p := &Publisher{
		eventCh: make(chan ClusterEvent, 1),
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	p.Publish(context.Background(), string(TypeShardError), "shard-3", "open failed")

	event := <-p.eventCh
	if event.Type != TypeShardError || event.Subject != "shard-3" || event.Detail != "open failed" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Fatalf("expected a non-zero timestamp")
	}
}
