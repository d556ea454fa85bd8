package query

import (
	"testing"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
)

func TestShardMap_ShardsForIndex_UnknownIndex(t *testing.T) {
	sm := NewShardMap(nil)
	if _, ok := sm.ShardsForIndex("missing"); ok {
		t.Fatalf("expected unknown index to report ok=false")
	}
}

func TestShardMap_ShardsForIndex_KnownIndex(t *testing.T) {
	sm := NewShardMap(nil)
	sm.indexes["docs"] = &cluster.Index{Name: "docs", Shards: []string{"shard-0", "shard-1"}}

	shards, ok := sm.ShardsForIndex("docs")
	if !ok || len(shards) != 2 {
		t.Fatalf("expected 2 shards for docs, got %v ok=%v", shards, ok)
	}
}

func TestShardMap_ReplicaAddr_NoOpenReplica(t *testing.T) {
	sm := NewShardMap(nil)
	if _, ok := sm.ReplicaAddr("shard-0"); ok {
		t.Fatalf("expected no replica address for an unknown shard")
	}
}

func TestShardMap_ReplicaAddr_ReturnsKnownNodeAddr(t *testing.T) {
	sm := NewShardMap(nil)
	sm.nodeAddr["node-a"] = "10.0.0.1:7000"
	sm.shardReplicas["shard-0"] = map[string]struct{}{"node-a": {}}

	addr, ok := sm.ReplicaAddr("shard-0")
	if !ok || addr != "10.0.0.1:7000" {
		t.Fatalf("expected 10.0.0.1:7000, got %q ok=%v", addr, ok)
	}
}

func TestShardMap_OrderedReplicas_SkipsRecentlyUnreachable(t *testing.T) {
	sm := NewShardMap(nil)
	sm.nodeAddr["node-a"] = "10.0.0.1:7000"
	sm.nodeAddr["node-b"] = "10.0.0.2:7000"
	sm.shardReplicas["shard-0"] = map[string]struct{}{"node-a": {}, "node-b": {}}
	sm.SetUnreachableBackoff(time.Minute)

	sm.MarkUnreachable("10.0.0.1:7000")

	ordered := sm.OrderedReplicas("shard-0")
	if len(ordered) != 1 || ordered[0] != "10.0.0.2:7000" {
		t.Fatalf("expected only the reachable replica, got %v", ordered)
	}
}

func TestShardMap_OrderedReplicas_AllUnreachableFallsBackToFullList(t *testing.T) {
	sm := NewShardMap(nil)
	sm.nodeAddr["node-a"] = "10.0.0.1:7000"
	sm.shardReplicas["shard-0"] = map[string]struct{}{"node-a": {}}
	sm.SetUnreachableBackoff(time.Minute)

	sm.MarkUnreachable("10.0.0.1:7000")

	ordered := sm.OrderedReplicas("shard-0")
	if len(ordered) != 1 || ordered[0] != "10.0.0.1:7000" {
		t.Fatalf("expected the sole replica still returned once nothing else is live, got %v", ordered)
	}
}

func TestShardMap_ReplicaAddr_StaysStickyAcrossCalls(t *testing.T) {
	sm := NewShardMap(nil)
	sm.nodeAddr["node-a"] = "10.0.0.1:7000"
	sm.nodeAddr["node-b"] = "10.0.0.2:7000"
	sm.shardReplicas["shard-0"] = map[string]struct{}{"node-a": {}, "node-b": {}}

	first, ok := sm.ReplicaAddr("shard-0")
	if !ok {
		t.Fatalf("expected a replica address")
	}
	for i := 0; i < 5; i++ {
		got, ok := sm.ReplicaAddr("shard-0")
		if !ok || got != first {
			t.Fatalf("expected sticky affinity to keep returning %q, got %q", first, got)
		}
	}
}

func TestShardMap_ReplicaAddr_FailsOverWhenPinnedReplicaGoesUnreachable(t *testing.T) {
	sm := NewShardMap(nil)
	sm.nodeAddr["node-a"] = "10.0.0.1:7000"
	sm.nodeAddr["node-b"] = "10.0.0.2:7000"
	sm.shardReplicas["shard-0"] = map[string]struct{}{"node-a": {}, "node-b": {}}
	sm.SetUnreachableBackoff(time.Minute)

	pinned, ok := sm.ReplicaAddr("shard-0")
	if !ok {
		t.Fatalf("expected a replica address")
	}
	sm.MarkUnreachable(pinned)

	next, ok := sm.ReplicaAddr("shard-0")
	if !ok {
		t.Fatalf("expected a fallback replica address")
	}
	if next == pinned {
		t.Fatalf("expected failover away from the now-unreachable pinned replica %q", pinned)
	}
}

func TestShardMap_OnChange_FiresAllHandlers(t *testing.T) {
	sm := NewShardMap(nil)
	calls := 0
	sm.OnChange(func() { calls++ })
	sm.OnChange(func() { calls++ })
	sm.fireChange()
	if calls != 2 {
		t.Fatalf("expected both handlers invoked, got %d calls", calls)
	}
}
