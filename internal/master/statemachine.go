package master

import "github.com/katta-cluster/katta/internal/cluster"

// applyTransition validates and applies a state change to idx in place.
// It reports false (and leaves idx untouched) when the move is illegal
// per cluster.CanTransition — callers must treat an illegal move as a
// no-op, not an error, since reapplying a stale event must never corrupt
// the table.
func applyTransition(idx *cluster.Index, to cluster.IndexState, errMsg string) bool {
	if !cluster.CanTransition(idx.State, to) {
		return false
	}
	idx.State = to
	idx.ErrorMessage = errMsg
	return true
}

// replicaTarget is the number of replicas an index should have, given its
// configured replication level and the number of currently live nodes.
func replicaTarget(replicationLevel, liveNodes int) int {
	if liveNodes < replicationLevel {
		return liveNodes
	}
	return replicationLevel
}

// aggregateShardState folds a shard's per-replica deploy states (per
// spec.md §3) into one of OPEN-count, error-present. The caller combines
// this across every shard of an index to decide the index's next state.
func aggregateShardState(replicaStates []cluster.DeployState) (openCount int, hasError bool) {
	for _, s := range replicaStates {
		switch s {
		case cluster.DeployOpen:
			openCount++
		case cluster.DeployError:
			hasError = true
		}
	}
	return openCount, hasError
}
