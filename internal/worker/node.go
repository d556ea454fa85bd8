package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/grpc"
	"github.com/katta-cluster/katta/pkg/metrics"
)

// Node is a Worker process: it hosts a set of shard replicas, serves
// search RPCs for them, and announces its own liveness through an
// ephemeral store entry.
type Node struct {
	cfg     config.WorkerConfig
	adapter *store.Adapter
	metrics *metrics.Metrics
	logger  *slog.Logger

	shards  *shardManager
	pool    *searchPool
	filters *filterCache
	server  *grpc.Server

	startTime time.Time
}

// NewNode builds a Worker bound to adapter and cfg. The node does nothing
// until Start is called.
func NewNode(adapter *store.Adapter, cfg config.WorkerConfig, m *metrics.Metrics) *Node {
	n := &Node{
		cfg:     cfg,
		adapter: adapter,
		metrics: m,
		logger:  slog.Default().With("component", "worker-node", "node", cfg.NodeName),
		server:  grpc.NewServer(),
	}
	n.shards = newShardManager(adapter, cfg.NodeName, cfg, m)
	n.pool = newSearchPool(cfg.PoolMaxSize, 25*time.Millisecond,
		func(delta int) { m.SearchPoolInFlight.Add(float64(delta)) },
		func() { m.SearchPoolRejected.Inc() },
	)
	n.filters = newFilterCache(cfg.FilterCacheCapacity, cfg.FilterCacheTTL,
		func() { m.FilterCacheHits.Inc() },
		func() { m.FilterCacheMisses.Inc() },
	)
	n.registerHandlers(n.server)
	return n
}

// Start brings the node up: opens the RPC listener, registers the node's
// ephemeral descriptor, subscribes to its assignment folder, and blocks
// until ctx is cancelled. On return the node has already begun shutting
// down; callers still must call Stop to release shard resources.
func (n *Node) Start(ctx context.Context) error {
	n.startTime = time.Now()

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- n.server.Serve(addr)
	}()

	info := cluster.NodeInfo{
		Name:      n.cfg.NodeName,
		Host:      n.cfg.Host,
		Port:      n.cfg.Port,
		StartTime: n.startTime,
		Healthy:   true,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling node descriptor: %w", err)
	}
	if _, err := n.adapter.Create(ctx, cluster.NodePath(n.cfg.NodeName), data, store.Ephemeral); err != nil {
		return fmt.Errorf("registering node: %w", err)
	}
	n.logger.Info("node registered", "addr", addr)

	n.adapter.SubscribeSessionEvents(func(evt store.SessionEvent) {
		if evt.Type == store.Reconnected {
			n.reregister(context.Background())
		}
	})

	n.adapter.SubscribeChildren(ctx, cluster.NodeAssignmentsPath(n.cfg.NodeName), func(shards []string) {
		n.shards.reconcile(context.Background(), shards)
	})

	select {
	case err := <-serveErrCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// reregister re-creates the node's ephemeral descriptor after the store
// session was lost and re-established — the adapter itself never does
// this, per internal/store's session-loss contract.
func (n *Node) reregister(ctx context.Context) {
	info := cluster.NodeInfo{
		Name:      n.cfg.NodeName,
		Host:      n.cfg.Host,
		Port:      n.cfg.Port,
		StartTime: n.startTime,
		Healthy:   true,
	}
	data, err := json.Marshal(info)
	if err != nil {
		n.logger.Error("marshaling node descriptor on reregister", "error", err)
		return
	}
	if _, err := n.adapter.Create(ctx, cluster.NodePath(n.cfg.NodeName), data, store.Ephemeral); err != nil {
		n.logger.Error("reregistering node after reconnect", "error", err)
		return
	}
	n.logger.Info("node reregistered after session loss")
}

// Stop drains the RPC server with the configured grace period, then
// closes every open shard and the pool's timer thread. The node's
// ephemeral descriptor is left to disappear with the adapter's lease
// rather than being explicitly deleted here, since Stop can be called
// during an abrupt shutdown where the store call itself would hang.
func (n *Node) Stop(ctx context.Context) {
	n.logger.Info("stopping node", "grace", n.cfg.ShutdownGrace)
	stopped := make(chan struct{})
	go func() {
		n.server.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(n.cfg.ShutdownGrace):
		n.logger.Warn("rpc server did not drain within grace period")
	}

	n.shards.closeAll(ctx)
	n.pool.Close()
	n.logger.Info("node stopped")
}
