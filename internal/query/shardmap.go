package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/store"
)

// defaultUnreachableBackoff is the fallback used when no caller configures
// one via SetUnreachableBackoff, matching QueryConfig's own default.
const defaultUnreachableBackoff = 30 * time.Second

// ShardMap is the Query Coordinator's own read-only view of cluster
// placement, kept current by the same store watches the Master uses —
// the Coordinator never asks the Master directly, so it keeps serving
// stale-but-recent results through a Master election without blocking.
type ShardMap struct {
	adapter *store.Adapter
	logger  *slog.Logger

	mu            sync.RWMutex
	nodeAddr      map[string]string              // node name -> host:port
	indexes       map[string]*cluster.Index      // index name -> descriptor
	shardReplicas map[string]map[string]struct{} // shard -> node names with an OPEN replica

	onChangeMu sync.RWMutex
	onChange   []func()

	backoffMu     sync.RWMutex
	backoff       time.Duration
	unreachableMu sync.Mutex
	unreachable   map[string]time.Time // replica addr -> last time it failed

	stickyMu sync.Mutex
	sticky   map[string]string // shard -> addr this instance is currently pinned to
}

// NewShardMap builds a ShardMap bound to adapter. Call Start to begin
// watching.
func NewShardMap(adapter *store.Adapter) *ShardMap {
	return &ShardMap{
		adapter:       adapter,
		logger:        slog.Default().With("component", "shard-map"),
		nodeAddr:      make(map[string]string),
		indexes:       make(map[string]*cluster.Index),
		shardReplicas: make(map[string]map[string]struct{}),
		backoff:       defaultUnreachableBackoff,
		unreachable:   make(map[string]time.Time),
		sticky:        make(map[string]string),
	}
}

// SetUnreachableBackoff overrides how long a replica that just failed an
// RPC is skipped by covering-set selection (spec.md §4.4's "skipping any
// replica on a node flagged unreachable within the last K seconds").
func (sm *ShardMap) SetUnreachableBackoff(d time.Duration) {
	if d <= 0 {
		return
	}
	sm.backoffMu.Lock()
	sm.backoff = d
	sm.backoffMu.Unlock()
}

func (sm *ShardMap) unreachableBackoff() time.Duration {
	sm.backoffMu.RLock()
	defer sm.backoffMu.RUnlock()
	return sm.backoff
}

// MarkUnreachable flags addr as having just failed an RPC, so OrderedReplicas
// skips it for the configured backoff window instead of retrying it
// immediately on the next shard or the next query.
func (sm *ShardMap) MarkUnreachable(addr string) {
	sm.unreachableMu.Lock()
	sm.unreachable[addr] = time.Now()
	sm.unreachableMu.Unlock()
}

func (sm *ShardMap) isUnreachable(addr string, now time.Time, backoff time.Duration) bool {
	sm.unreachableMu.Lock()
	defer sm.unreachableMu.Unlock()
	failedAt, marked := sm.unreachable[addr]
	return marked && now.Sub(failedAt) < backoff
}

// OnChange registers a callback invoked whenever any part of the shard
// map changes — the Coordinator's result cache uses this to invalidate
// itself wholesale rather than tracking per-query staleness.
func (sm *ShardMap) OnChange(fn func()) {
	sm.onChangeMu.Lock()
	defer sm.onChangeMu.Unlock()
	sm.onChange = append(sm.onChange, fn)
}

func (sm *ShardMap) fireChange() {
	sm.onChangeMu.RLock()
	handlers := append([]func(){}, sm.onChange...)
	sm.onChangeMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

// Start subscribes to the node registry and index registry, and (lazily,
// as each index appears) every one of its shards' replica-report
// folders. It returns immediately; updates arrive asynchronously.
func (sm *ShardMap) Start(ctx context.Context) {
	sm.adapter.SubscribeChildren(ctx, cluster.NodesPath, func(children []string) {
		sm.refreshNodes(ctx, children)
	})
	sm.adapter.SubscribeChildren(ctx, cluster.IndexesPath, func(children []string) {
		sm.refreshIndexes(ctx, children)
	})
}

func (sm *ShardMap) refreshNodes(ctx context.Context, children []string) {
	addrs := make(map[string]string, len(children))
	for _, name := range children {
		data, _, err := sm.adapter.Read(ctx, cluster.NodePath(name))
		if err != nil {
			continue
		}
		var info cluster.NodeInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		addrs[name] = info.Addr()
	}
	sm.mu.Lock()
	sm.nodeAddr = addrs
	sm.mu.Unlock()
	sm.fireChange()
}

func (sm *ShardMap) refreshIndexes(ctx context.Context, children []string) {
	present := make(map[string]struct{}, len(children))
	var newShards []string

	sm.mu.Lock()
	for _, name := range children {
		present[name] = struct{}{}
		if _, tracked := sm.indexes[name]; tracked {
			continue
		}
		data, _, err := sm.adapter.Read(ctx, cluster.IndexPath(name))
		if err != nil {
			continue
		}
		var idx cluster.Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		sm.indexes[name] = &idx
		newShards = append(newShards, idx.Shards...)
	}
	for name := range sm.indexes {
		if _, ok := present[name]; !ok {
			delete(sm.indexes, name)
		}
	}
	sm.mu.Unlock()

	for _, shard := range newShards {
		sm.watchShard(ctx, shard)
	}
	sm.fireChange()
}

func (sm *ShardMap) watchShard(ctx context.Context, shard string) {
	sm.adapter.SubscribeChildren(ctx, cluster.ShardReplicasPath(shard), func(nodes []string) {
		sm.refreshShardReplicas(ctx, shard, nodes)
	})
}

func (sm *ShardMap) refreshShardReplicas(ctx context.Context, shard string, nodes []string) {
	open := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		data, _, err := sm.adapter.Read(ctx, cluster.ShardReplicaPath(shard, node))
		if err != nil {
			continue
		}
		var rec cluster.DeployedShard
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.State == cluster.DeployOpen {
			open[node] = struct{}{}
		}
	}
	sm.mu.Lock()
	sm.shardReplicas[shard] = open
	sm.mu.Unlock()
	sm.fireChange()
}

// ShardsForIndex returns the shard names composing index, and whether
// index is currently known.
func (sm *ShardMap) ShardsForIndex(index string) ([]string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	idx, ok := sm.indexes[index]
	if !ok {
		return nil, false
	}
	return idx.Shards, true
}

// ReplicaAddr returns the address this ShardMap instance is currently
// pinned to for shard, falling back to the next live replica in round-robin
// order when the pinned one is unknown or recently flagged unreachable.
func (sm *ShardMap) ReplicaAddr(shard string) (string, bool) {
	ordered := sm.OrderedReplicas(shard)
	if len(ordered) == 0 {
		return "", false
	}
	sm.pin(shard, ordered[0])
	return ordered[0], true
}

// OrderedReplicas returns every replica address currently reporting OPEN
// for shard, ordered for failover: this instance's pinned replica first
// (sticky affinity), then the rest in round-robin order, skipping any
// replica flagged unreachable within the configured backoff window. A
// shard with at least one live replica never returns an empty list merely
// because every replica recently failed — once the backoff lapses callers
// need a list to retry against, so the unfiltered set is returned instead.
// The Coordinator walks this list for per-shard failover (spec.md §4.4).
func (sm *ShardMap) OrderedReplicas(shard string) []string {
	sm.mu.RLock()
	nodes := make([]string, 0, len(sm.shardReplicas[shard]))
	for node := range sm.shardReplicas[shard] {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	addrs := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if addr, ok := sm.nodeAddr[node]; ok {
			addrs = append(addrs, addr)
		}
	}
	sm.mu.RUnlock()
	if len(addrs) == 0 {
		return nil
	}

	now := time.Now()
	backoff := sm.unreachableBackoff()
	live := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if !sm.isUnreachable(addr, now, backoff) {
			live = append(live, addr)
		}
	}
	if len(live) == 0 {
		live = addrs
	}

	sm.stickyMu.Lock()
	pinned := sm.sticky[shard]
	sm.stickyMu.Unlock()
	for i, addr := range live {
		if addr == pinned {
			return append(append([]string{}, live[i:]...), live[:i]...)
		}
	}
	return live
}

func (sm *ShardMap) pin(shard, addr string) {
	sm.stickyMu.Lock()
	sm.sticky[shard] = addr
	sm.stickyMu.Unlock()
}
