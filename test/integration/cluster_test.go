// Package integration exercises a single Worker Node and a Query
// Coordinator wired together over a real metadata store, with no Master
// in the loop: the test plays the Master's part itself, writing the
// index/shard descriptors and assignment records a real placement pass
// would produce, then asserts the Coordinator's scatter/gather search
// returns the expected hit.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/indexengine"
	"github.com/katta-cluster/katta/internal/query"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/internal/worker"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/metrics"
)

func skipIfNoStore(t *testing.T) *store.Adapter {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	adapter, err := store.New(ctx, testStoreConfig())
	if err != nil {
		t.Skipf("skipping: metadata store unavailable: %v", err)
	}
	return adapter
}

func testStoreConfig() config.StoreConfig {
	endpoint := envOrDefault("TEST_STORE_ENDPOINT", "localhost:2379")
	return config.StoreConfig{
		Endpoints:   []string{endpoint},
		DialTimeout: 2 * time.Second,
		LeaseTTL:    10 * time.Second,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func freePort(t *testing.T) int {
	t.Helper()
	base := 19100
	if v := os.Getenv("TEST_WORKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return base
}

// TestClusterSearch_ScatterGatherAcrossOneShard builds a one-shard index
// on disk, announces it and assigns it exactly as a Master would, brings
// up a single Worker Node to serve it, and asserts a Coordinator query
// finds the one document that matches.
func TestClusterSearch_ScatterGatherAcrossOneShard(t *testing.T) {
	adapter := skipIfNoStore(t)
	defer adapter.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	indexName := fmt.Sprintf("it-index-%d", time.Now().UnixNano())
	shardName := "shard-0"
	nodeName := fmt.Sprintf("it-node-%d", time.Now().UnixNano())
	dataDir, err := os.MkdirTemp("", "katta-it-shard")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dataDir)

	buildShard(t, dataDir)

	t.Cleanup(func() {
		adapter.DeleteRecursive(context.Background(), cluster.IndexPath(indexName))
		adapter.DeleteRecursive(context.Background(), cluster.NodeAssignmentsPath(nodeName))
		adapter.DeleteRecursive(context.Background(), cluster.ShardReplicasPath(shardName))
	})

	declareIndex(t, ctx, adapter, indexName, shardName, dataDir)
	assignShard(t, ctx, adapter, nodeName, shardName, indexName)

	workerCfg := config.WorkerConfig{
		NodeName:              nodeName,
		Host:                  "127.0.0.1",
		Port:                  freePort(t),
		PoolCoreSize:          4,
		PoolMaxSize:           16,
		TimeoutPercentage:     0.75,
		FilterCacheCapacity:   100,
		FilterCacheTTL:        time.Minute,
		OpenRetryMaxAttempts:  3,
		OpenRetryInitialDelay: 50 * time.Millisecond,
		ShutdownGrace:         2 * time.Second,
	}
	node := worker.NewNode(adapter, workerCfg, metrics.New())
	nodeCtx, stopNode := context.WithCancel(ctx)
	defer stopNode()
	go node.Start(nodeCtx)
	defer node.Stop(context.Background())

	shardMap := query.NewShardMap(adapter)
	shardMap.Start(ctx)

	var shards []string
	var ok bool
	deadline := time.Now().Add(10 * time.Second)
	for {
		shards, ok = shardMap.ShardsForIndex(indexName)
		if ok && len(shards) > 0 {
			if _, reachable := shardMap.ReplicaAddr(shardName); reachable {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("shard map never saw an open replica for %s/%s", indexName, shardName)
		}
		time.Sleep(100 * time.Millisecond)
	}

	coord := query.NewCoordinator(shardMap, config.QueryConfig{
		DefaultLimit:   10,
		MaxResults:     100,
		OverallTimeout: 5 * time.Second,
	}, metrics.New())
	defer coord.Close()

	result, err := coord.Search(ctx, indexName, "distributed", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.TotalHits == 0 {
		t.Fatalf("expected at least one hit, got %+v", result)
	}
	found := false
	for _, hit := range result.Hits {
		if hit.DocID == "doc-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected doc-1 among hits, got %+v", result.Hits)
	}
}

func buildShard(t *testing.T, dataDir string) {
	t.Helper()
	e, err := indexengine.Open(dataDir)
	if err != nil {
		t.Fatalf("opening engine to build shard: %v", err)
	}
	e.Build("doc-1", "distributed search", "a worker node serves one shard of a distributed index", nil)
	e.Build("doc-2", "unrelated", "completely unrelated document content", nil)
	if err := e.Flush(); err != nil {
		t.Fatalf("flushing shard: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("closing shard after build: %v", err)
	}
}

func declareIndex(t *testing.T, ctx context.Context, adapter *store.Adapter, indexName, shardName, dataDir string) {
	t.Helper()
	shardDesc := cluster.Shard{Name: shardName, IndexName: indexName, ShardPath: dataDir}
	data, err := json.Marshal(shardDesc)
	if err != nil {
		t.Fatalf("marshaling shard descriptor: %v", err)
	}
	if _, err := adapter.Create(ctx, cluster.IndexShardPath(indexName, shardName), data, store.Persistent); err != nil {
		t.Fatalf("writing shard descriptor: %v", err)
	}

	idx := cluster.Index{
		Name:             indexName,
		Path:             dataDir,
		Analyzer:         "standard",
		ReplicationLevel: 1,
		State:            cluster.IndexDeployed,
		Shards:           []string{shardName},
	}
	idxData, err := json.Marshal(idx)
	if err != nil {
		t.Fatalf("marshaling index descriptor: %v", err)
	}
	if _, err := adapter.Create(ctx, cluster.IndexPath(indexName), idxData, store.Persistent); err != nil {
		t.Fatalf("writing index descriptor: %v", err)
	}
}

func assignShard(t *testing.T, ctx context.Context, adapter *store.Adapter, nodeName, shardName, indexName string) {
	t.Helper()
	assignment := cluster.Assignment{Shard: shardName, Index: indexName}
	data, err := json.Marshal(assignment)
	if err != nil {
		t.Fatalf("marshaling assignment: %v", err)
	}
	if _, err := adapter.Create(ctx, cluster.NodeAssignmentPath(nodeName, shardName), data, store.Persistent); err != nil {
		t.Fatalf("writing assignment: %v", err)
	}
}
