// Package e2e exercises the full platform stack end to end: an index is
// declared the way addIndex would declare it, a real Master control loop
// places its shard on a live Worker Node, and a Query Coordinator answers
// a search against it — no component's internals are faked.
//
// Prerequisites:
//   - etcd reachable at TEST_STORE_ENDPOINT (default localhost:2379)
//
// Run with:
//
//	go test -v -timeout=60s ./test/e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/indexengine"
	"github.com/katta-cluster/katta/internal/master"
	"github.com/katta-cluster/katta/internal/query"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/internal/worker"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/metrics"
)

func testStoreConfig() config.StoreConfig {
	endpoint := "localhost:2379"
	if v := os.Getenv("TEST_STORE_ENDPOINT"); v != "" {
		endpoint = v
	}
	return config.StoreConfig{
		Endpoints:   []string{endpoint},
		DialTimeout: 2 * time.Second,
		LeaseTTL:    10 * time.Second,
	}
}

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

// TestDeclareAndSearch_ThroughRealMasterAndWorker runs a real Master
// control loop and a real Worker Node against a shared store, declares an
// index the way the addIndex CLI command would, and waits for the Master
// to deploy it before asking a Coordinator to search it.
func TestDeclareAndSearch_ThroughRealMasterAndWorker(t *testing.T) {
	masterAdapter := skipIfNoStore(t)
	defer masterAdapter.Close()
	workerAdapter := skipIfNoStore(t)
	defer workerAdapter.Close()
	cliAdapter := skipIfNoStore(t)
	defer cliAdapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	indexName := fmt.Sprintf("e2e-index-%d", time.Now().UnixNano())
	shardName := "shard-0"
	dataDir, err := os.MkdirTemp("", "katta-e2e-shard")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dataDir)
	buildShard(t, dataDir)

	t.Cleanup(func() {
		cliAdapter.DeleteRecursive(context.Background(), cluster.IndexPath(indexName))
	})

	masterCtx, stopMaster := context.WithCancel(ctx)
	defer stopMaster()
	controller := master.NewController(masterAdapter, config.MasterConfig{RecoveryDelay: time.Second}, "e2e-master", metrics.New())
	go controller.Run(masterCtx)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	nodeName := fmt.Sprintf("e2e-node-%d", time.Now().UnixNano())
	workerCfg := config.WorkerConfig{
		NodeName:              nodeName,
		Host:                  "127.0.0.1",
		Port:                  19200,
		PoolCoreSize:          4,
		PoolMaxSize:           16,
		TimeoutPercentage:     0.75,
		FilterCacheCapacity:   100,
		FilterCacheTTL:        time.Minute,
		OpenRetryMaxAttempts:  5,
		OpenRetryInitialDelay: 100 * time.Millisecond,
		ShutdownGrace:         2 * time.Second,
	}
	node := worker.NewNode(workerAdapter, workerCfg, metrics.New())
	go node.Start(workerCtx)
	defer node.Stop(context.Background())

	declareIndex(t, ctx, cliAdapter, indexName, shardName, dataDir)

	shardMap := query.NewShardMap(cliAdapter)
	shardMap.Start(ctx)
	deadline := time.Now().Add(30 * time.Second)
	for {
		if shards, ok := shardMap.ShardsForIndex(indexName); ok && len(shards) > 0 {
			if _, reachable := shardMap.ReplicaAddr(shardName); reachable {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("master never deployed %s/%s to a live worker", indexName, shardName)
		}
		time.Sleep(200 * time.Millisecond)
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
		t.Fatalf("expected at least one hit after a real Master-driven deploy, got %+v", result)
	}
}

func buildShard(t *testing.T, dataDir string) {
	t.Helper()
	e, err := indexengine.Open(dataDir)
	if err != nil {
		t.Fatalf("opening engine to build shard: %v", err)
	}
	e.Build("doc-1", "distributed search", "a worker node serves one shard of a distributed index", nil)
	if err := e.Flush(); err != nil {
		t.Fatalf("flushing shard: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("closing shard after build: %v", err)
	}
}

// declareIndex writes an index descriptor in ANNOUNCED state the way the
// addIndex CLI command would, letting the real Master pick it up off its
// /indexes watch.
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
		State:            cluster.IndexAnnounced,
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
