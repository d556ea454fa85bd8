// Package events implements the cluster event bus: a non-blocking,
// in-memory buffered publisher over Kafka that the Master uses to
// announce cluster lifecycle events (node join/leave, shard open/error,
// index state transitions) for external analytics/audit consumers, and a
// Consumer-side decoder for those same events.
package events
