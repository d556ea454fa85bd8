package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/indexengine"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/metrics"
	"github.com/katta-cluster/katta/pkg/resilience"
)

// shardManager owns every shard replica this node currently has open and
// reconciles that set against the Master's assignments whenever the
// assignment folder changes. reconcile and every close run on the
// watch-callback goroutine; each open runs on its own goroutine. mu guards
// the engines map against those opens and against reads from the RPC path.
type shardManager struct {
	adapter  *store.Adapter
	nodeName string
	cfg      config.WorkerConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	engines map[string]*indexengine.Engine
}

func newShardManager(adapter *store.Adapter, nodeName string, cfg config.WorkerConfig, m *metrics.Metrics) *shardManager {
	return &shardManager{
		adapter:  adapter,
		nodeName: nodeName,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "shard-manager", "node", nodeName),
		engines:  make(map[string]*indexengine.Engine),
	}
}

// reconcile opens every shard named in assigned that isn't already open,
// and closes every open shard no longer named in assigned.
func (sm *shardManager) reconcile(ctx context.Context, assigned []string) {
	wanted := make(map[string]struct{}, len(assigned))
	for _, shard := range assigned {
		wanted[shard] = struct{}{}
	}

	sm.mu.RLock()
	var toClose []string
	for shard := range sm.engines {
		if _, ok := wanted[shard]; !ok {
			toClose = append(toClose, shard)
		}
	}
	sm.mu.RUnlock()

	for _, shard := range toClose {
		sm.closeShard(ctx, shard)
	}

	for _, shard := range assigned {
		sm.mu.RLock()
		_, open := sm.engines[shard]
		sm.mu.RUnlock()
		if !open {
			go sm.openShard(context.Background(), shard)
		}
	}
}

// openShard resolves the shard's data location, opens it through the
// index engine with exponential-backoff retry, and reports the outcome at
// /shard-to-node/<shard>/<node>.
func (sm *shardManager) openShard(ctx context.Context, shard string) {
	assignData, _, err := sm.adapter.Read(ctx, cluster.NodeAssignmentPath(sm.nodeName, shard))
	if err != nil {
		sm.logger.Error("reading assignment before open", "shard", shard, "error", err)
		return
	}
	var assignment cluster.Assignment
	if err := json.Unmarshal(assignData, &assignment); err != nil {
		sm.logger.Error("unmarshaling assignment", "shard", shard, "error", err)
		return
	}

	sm.writeReplicaState(ctx, shard, cluster.DeployFetching, "", 0)

	shardData, _, err := sm.adapter.Read(ctx, cluster.IndexShardPath(assignment.Index, shard))
	if err != nil {
		sm.reportOpenFailure(ctx, shard, fmt.Errorf("reading shard descriptor: %w", err))
		return
	}
	var shardDesc cluster.Shard
	if err := json.Unmarshal(shardData, &shardDesc); err != nil {
		sm.reportOpenFailure(ctx, shard, fmt.Errorf("unmarshaling shard descriptor: %w", err))
		return
	}

	var engine *indexengine.Engine
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  sm.cfg.OpenRetryMaxAttempts,
		InitialDelay: sm.cfg.OpenRetryInitialDelay,
	}
	err = resilience.Retry(ctx, "open-shard:"+shard, retryCfg, func() error {
		e, openErr := indexengine.Open(shardDesc.ShardPath)
		if openErr != nil {
			return openErr
		}
		engine = e
		return nil
	})
	if err != nil {
		sm.reportOpenFailure(ctx, shard, err)
		return
	}

	sm.mu.Lock()
	sm.engines[shard] = engine
	sm.mu.Unlock()

	sm.writeReplicaState(ctx, shard, cluster.DeployOpen, "", engine.TotalDocs())
	sm.metrics.ShardOpensTotal.WithLabelValues("success").Inc()
	sm.metrics.ShardDocCount.WithLabelValues(shard).Set(float64(engine.TotalDocs()))
	sm.metrics.OpenShards.Set(float64(sm.shardCount()))
	sm.logger.Info("shard opened", "shard", shard, "docs", engine.TotalDocs())
}

func (sm *shardManager) reportOpenFailure(ctx context.Context, shard string, cause error) {
	sm.logger.Error("shard open failed, exhausted retries", "shard", shard, "error", cause)
	sm.metrics.ShardOpensTotal.WithLabelValues("error").Inc()
	sm.writeReplicaState(ctx, shard, cluster.DeployError, cause.Error(), 0)
}

func (sm *shardManager) writeReplicaState(ctx context.Context, shard string, state cluster.DeployState, errMsg string, docCount int64) {
	rec := cluster.DeployedShard{Shard: shard, Node: sm.nodeName, State: state, ErrorMessage: errMsg, DocCount: docCount}
	data, err := json.Marshal(rec)
	if err != nil {
		sm.logger.Error("marshaling replica state", "shard", shard, "error", err)
		return
	}
	path := cluster.ShardReplicaPath(shard, sm.nodeName)
	if _, err := sm.adapter.Create(ctx, path, data, store.Persistent); err != nil {
		if werr := sm.adapter.Write(ctx, path, data); werr != nil {
			sm.logger.Error("writing replica state", "shard", shard, "error", werr)
		}
	}
}

// closeShard releases a shard no longer assigned to this node: the
// replica record is removed first so the Master and Query Coordinator
// stop routing to it before the local engine is actually closed.
func (sm *shardManager) closeShard(ctx context.Context, shard string) {
	sm.mu.Lock()
	engine, ok := sm.engines[shard]
	if ok {
		delete(sm.engines, shard)
	}
	sm.mu.Unlock()
	if !ok {
		return
	}

	if err := sm.adapter.Delete(ctx, cluster.ShardReplicaPath(shard, sm.nodeName)); err != nil {
		sm.logger.Error("removing replica record", "shard", shard, "error", err)
	}
	if err := engine.Close(); err != nil {
		sm.logger.Error("closing shard engine", "shard", shard, "error", err)
	}
	sm.metrics.ShardDocCount.DeleteLabelValues(shard)
	sm.metrics.OpenShards.Set(float64(sm.shardCount()))
	sm.logger.Info("shard closed", "shard", shard)
}

// EngineFor returns the open engine for shard, if any.
func (sm *shardManager) EngineFor(shard string) (*indexengine.Engine, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	e, ok := sm.engines[shard]
	return e, ok
}

func (sm *shardManager) shardCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.engines)
}

// closeAll releases every open shard, used during shutdown.
func (sm *shardManager) closeAll(ctx context.Context) {
	sm.mu.RLock()
	shards := make([]string, 0, len(sm.engines))
	for shard := range sm.engines {
		shards = append(shards, shard)
	}
	sm.mu.RUnlock()
	for _, shard := range shards {
		sm.closeShard(ctx, shard)
	}
}
