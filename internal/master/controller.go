package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/metrics"
)

// EventPublisher lets the Controller announce cluster lifecycle events
// without importing internal/events directly, keeping this package
// independently testable.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject, detail string)
}

// AuditLogger lets the Controller record index state transitions without
// importing internal/audit directly.
type AuditLogger interface {
	Record(ctx context.Context, index, fromState, toState, errMsg, actor string)
}

// Controller is the active Master's reducer: all placement decisions are
// made on a single goroutine draining a work queue fed by the store's
// watch callbacks, so no two decisions ever race each other. It never
// blocks on a Worker — every store write it issues is fire-and-forget
// from the reducer's point of view.
type Controller struct {
	adapter *store.Adapter
	cfg     config.MasterConfig
	name    string
	metrics *metrics.Metrics
	logger  *slog.Logger

	events EventPublisher
	audit  AuditLogger

	mu                 sync.Mutex
	nodes              map[string]cluster.NodeInfo
	indexes            map[string]*cluster.Index
	shardIndex         map[string]string // shard -> owning index name
	placement          *Placement
	shardReplicaStates map[string]map[string]cluster.DeployState

	work chan func()
}

// NewController builds a Controller that campaigns and, once active,
// drives placement for the whole cluster.
func NewController(adapter *store.Adapter, cfg config.MasterConfig, name string, m *metrics.Metrics) *Controller {
	return &Controller{
		adapter: adapter,
		cfg:     cfg,
		name:    name,
		metrics: m,
		logger:  slog.Default().With("component", "master-controller", "node", name),
	}
}

// SetEventPublisher wires an optional cluster-event-bus publisher.
func (c *Controller) SetEventPublisher(p EventPublisher) { c.events = p }

// SetAuditLogger wires an optional Postgres-backed audit log.
func (c *Controller) SetAuditLogger(a AuditLogger) { c.audit = a }

// Run campaigns for the election token forever, driving placement
// whenever it wins, until ctx is cancelled. It always returns nil: a failed
// campaign is logged and retried, and cancellation ends the loop cleanly.
func (c *Controller) Run(ctx context.Context) error {
	elector := NewElector(c.adapter, c.name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		term, err := elector.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("campaign failed, retrying", "error", err)
			continue
		}
		c.metrics.ElectionTransitionsTotal.WithLabelValues("won").Inc()
		c.metrics.IsActiveMaster.Set(1)
		c.logger.Info("active master")
		runErr := c.runActive(ctx, term)
		c.metrics.IsActiveMaster.Set(0)
		c.metrics.ElectionTransitionsTotal.WithLabelValues("lost").Inc()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("deactivated", "reason", runErr)
		select {
		case <-time.After(c.cfg.RecoveryDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) runActive(ctx context.Context, term *Term) error {
	activeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.nodes = make(map[string]cluster.NodeInfo)
	c.indexes = make(map[string]*cluster.Index)
	c.shardIndex = make(map[string]string)
	c.placement = NewPlacement()
	c.shardReplicaStates = make(map[string]map[string]cluster.DeployState)
	c.work = make(chan func(), 1024)
	c.mu.Unlock()

	go c.drainWorkQueue(activeCtx)

	c.adapter.SubscribeChildren(activeCtx, cluster.NodesPath, func(children []string) {
		c.enqueue(func() { c.reconcileNodes(context.Background(), children) })
	})
	c.adapter.SubscribeChildren(activeCtx, cluster.IndexesPath, func(children []string) {
		c.enqueue(func() { c.reconcileIndexes(context.Background(), children) })
	})

	select {
	case <-term.Done():
		return fmt.Errorf("election session ended")
	case <-ctx.Done():
		return nil
	}
}

func (c *Controller) drainWorkQueue(ctx context.Context) {
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) enqueue(fn func()) {
	select {
	case c.work <- fn:
	default:
		c.logger.Error("work queue full, dropping event")
	}
}

func (c *Controller) publishEvent(ctx context.Context, eventType, subject, detail string) {
	if c.events != nil {
		c.events.Publish(ctx, eventType, subject, detail)
	}
}

func (c *Controller) recordAudit(ctx context.Context, index, from, to, errMsg string) {
	if c.audit != nil {
		c.audit.Record(ctx, index, from, to, errMsg, "master:"+c.name)
	}
}

// reconcileNodes updates the live-node set and triggers recovery for any
// node that disappeared.
func (c *Controller) reconcileNodes(ctx context.Context, children []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[string]struct{}, len(children))
	for _, name := range children {
		live[name] = struct{}{}
		if _, tracked := c.nodes[name]; tracked {
			continue
		}
		data, _, err := c.adapter.Read(ctx, cluster.NodePath(name))
		if err != nil {
			continue
		}
		var info cluster.NodeInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		c.nodes[name] = info
		c.logger.Info("node joined", "node", name)
		c.publishEvent(ctx, "NodeJoined", name, "")
	}

	for name := range c.nodes {
		if _, ok := live[name]; ok {
			continue
		}
		delete(c.nodes, name)
		c.logger.Warn("node left", "node", name)
		c.publishEvent(ctx, "NodeLeft", name, "")
		c.recoverFromNodeLoss(ctx, name)
	}
}

// recoverFromNodeLoss drops node's replicas from the placement table and
// schedules replacements for any shard that falls under-replication,
// moving the owning index to REPLICATING.
func (c *Controller) recoverFromNodeLoss(ctx context.Context, node string) {
	affected := c.placement.RemoveNode(node)
	liveNodes := c.liveNodeNamesLocked()
	for _, shard := range affected {
		indexName, ok := c.shardIndex[shard]
		if !ok {
			continue
		}
		idx, ok := c.indexes[indexName]
		if !ok {
			continue
		}
		target := replicaTarget(idx.ReplicationLevel, len(liveNodes))
		if c.placement.ReplicaCount(shard) >= target {
			continue
		}
		if applyTransition(idx, cluster.IndexReplicating, "") {
			c.recordAudit(ctx, idx.Name, string(cluster.IndexDeployed), string(idx.State), "")
		}
		if newNode, ok := c.placement.ChooseNode(liveNodes, shard); ok {
			c.writeAssignment(ctx, newNode, shard, indexName)
		} else {
			c.logger.Error("no spare node for under-replicated shard", "shard", shard)
		}
	}
}

func (c *Controller) liveNodeNamesLocked() []string {
	names := make([]string, 0, len(c.nodes))
	for n := range c.nodes {
		names = append(names, n)
	}
	return names
}

// reconcileIndexes loads any newly-declared index and begins placement
// for indexes still in ANNOUNCED state; removed indexes have their
// assignments torn down.
func (c *Controller) reconcileIndexes(ctx context.Context, children []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]struct{}, len(children))
	for _, name := range children {
		present[name] = struct{}{}
		if _, tracked := c.indexes[name]; tracked {
			continue
		}
		data, _, err := c.adapter.Read(ctx, cluster.IndexPath(name))
		if err != nil {
			continue
		}
		var idx cluster.Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		c.indexes[name] = &idx
		for _, shard := range idx.Shards {
			c.shardIndex[shard] = name
			c.watchShardReports(ctx, shard)
		}
		if idx.State == cluster.IndexAnnounced {
			c.deployIndex(ctx, &idx)
		}
	}

	for name, idx := range c.indexes {
		if _, ok := present[name]; ok {
			continue
		}
		c.logger.Info("index removed", "index", name)
		for _, shard := range idx.Shards {
			for _, node := range c.placement.NodesForShard(shard) {
				c.removeAssignment(ctx, node, shard)
			}
			delete(c.shardIndex, shard)
		}
		delete(c.indexes, name)
	}
}

// deployIndex assigns every shard of idx to up to ReplicationLevel
// distinct live nodes and moves the index to DEPLOYING.
func (c *Controller) deployIndex(ctx context.Context, idx *cluster.Index) {
	liveNodes := c.liveNodeNamesLocked()
	target := replicaTarget(idx.ReplicationLevel, len(liveNodes))
	for _, shard := range idx.Shards {
		for i := 0; i < target; i++ {
			node, ok := c.placement.ChooseNode(liveNodes, shard)
			if !ok {
				break
			}
			c.placement.SetReplica(shard, node)
			c.writeAssignment(ctx, node, shard, idx.Name)
		}
	}
	if applyTransition(idx, cluster.IndexDeploying, "") {
		c.recordAudit(ctx, idx.Name, string(cluster.IndexAnnounced), string(idx.State), "")
		c.writeIndex(ctx, idx)
		c.publishEvent(ctx, "IndexStateChanged", idx.Name, string(idx.State))
	}
}

func (c *Controller) writeAssignment(ctx context.Context, node, shard, indexName string) {
	assignment := cluster.Assignment{Shard: shard, Index: indexName}
	data, err := json.Marshal(assignment)
	if err != nil {
		c.logger.Error("marshaling assignment", "error", err)
		return
	}
	path := cluster.NodeAssignmentPath(node, shard)
	if _, err := c.adapter.Create(ctx, path, data, store.Persistent); err != nil {
		c.logger.Warn("assignment already present, leaving as-is", "path", path, "error", err)
	}
}

func (c *Controller) removeAssignment(ctx context.Context, node, shard string) {
	if err := c.adapter.Delete(ctx, cluster.NodeAssignmentPath(node, shard)); err != nil {
		c.logger.Error("removing assignment", "node", node, "shard", shard, "error", err)
	}
	c.placement.RemoveReplica(shard, node)
}

func (c *Controller) writeIndex(ctx context.Context, idx *cluster.Index) {
	data, err := json.Marshal(idx)
	if err != nil {
		c.logger.Error("marshaling index descriptor", "index", idx.Name, "error", err)
		return
	}
	if err := c.adapter.Write(ctx, cluster.IndexPath(idx.Name), data); err != nil {
		c.logger.Error("writing index descriptor", "index", idx.Name, "error", err)
	}
}

// watchShardReports subscribes to a shard's replica-report folder so the
// Master can aggregate OPEN/ERROR status without polling.
func (c *Controller) watchShardReports(ctx context.Context, shard string) {
	c.adapter.SubscribeChildren(ctx, cluster.ShardReplicasPath(shard), func(nodes []string) {
		c.enqueue(func() { c.refreshShardReport(context.Background(), shard, nodes) })
	})
}

func (c *Controller) refreshShardReport(ctx context.Context, shard string, nodes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]cluster.DeployState, len(nodes))
	for _, node := range nodes {
		data, _, err := c.adapter.Read(ctx, cluster.ShardReplicaPath(shard, node))
		if err != nil {
			continue
		}
		var rec cluster.DeployedShard
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		states[node] = rec.State
		if rec.State == cluster.DeployOpen {
			c.placement.SetReplica(shard, node)
		}
	}
	c.shardReplicaStates[shard] = states

	indexName, ok := c.shardIndex[shard]
	if !ok {
		return
	}
	idx, ok := c.indexes[indexName]
	if !ok {
		return
	}
	c.reconcileIndexReadiness(ctx, idx)
}

// reconcileIndexReadiness folds the per-shard replica reports of idx into
// its next state: DEPLOYED once every shard has enough OPEN replicas,
// DEPLOY_ERROR if any shard reports ERROR with no spare node to retry on.
func (c *Controller) reconcileIndexReadiness(ctx context.Context, idx *cluster.Index) {
	if idx.State != cluster.IndexDeploying && idx.State != cluster.IndexReplicating {
		return
	}
	liveNodes := c.liveNodeNamesLocked()
	target := replicaTarget(idx.ReplicationLevel, len(liveNodes))

	allReady := true
	anyStuckError := false
	for _, shard := range idx.Shards {
		openCount, hasError := aggregateShardState(valuesOf(c.shardReplicaStates[shard]))
		if openCount < target {
			allReady = false
		}
		if hasError {
			if _, ok := c.placement.ChooseNode(liveNodes, shard); !ok {
				anyStuckError = true
			}
		}
	}

	from := idx.State
	switch {
	case allReady:
		if applyTransition(idx, cluster.IndexDeployed, "") {
			c.recordAudit(ctx, idx.Name, string(from), string(idx.State), "")
			c.writeIndex(ctx, idx)
			c.publishEvent(ctx, "IndexStateChanged", idx.Name, string(idx.State))
		}
	case anyStuckError:
		if applyTransition(idx, cluster.IndexDeployError, "a shard has no spare node to retry placement on") {
			c.recordAudit(ctx, idx.Name, string(from), string(idx.State), idx.ErrorMessage)
			c.writeIndex(ctx, idx)
			c.publishEvent(ctx, "IndexStateChanged", idx.Name, string(idx.State))
		}
	}
}

func valuesOf(m map[string]cluster.DeployState) []cluster.DeployState {
	out := make([]cluster.DeployState, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Snapshot returns a point-in-time copy of the placement table, backing
// the read-only /structure HTTP endpoint. The showStructure CLI command
// does not use it; it reads the metadata store directly.
func (c *Controller) Snapshot() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.shardIndex))
	for shard := range c.shardIndex {
		out[shard] = c.placement.NodesForShard(shard)
	}
	return out
}
