package cluster

import "strings"

// Store layout (spec.md §6):
//
//	/master                          ephemeral election token
//	/nodes/<name>                    ephemeral node descriptor
//	/indexes/<name>                  persistent index descriptor
//	/indexes/<name>/<shard>          persistent shard descriptor
//	/node-to-shard/<node>/<shard>    persistent assignment (Master writes, Worker watches)
//	/shard-to-node/<shard>/<node>    persistent deployment record (Worker writes, Master+Client watch)
const (
	MasterPath       = "/master"
	NodesPath        = "/nodes"
	IndexesPath      = "/indexes"
	NodeToShardPath  = "/node-to-shard"
	ShardToNodePath  = "/shard-to-node"
)

// NodePath returns the store path for a node's ephemeral descriptor.
func NodePath(node string) string {
	return NodesPath + "/" + node
}

// IndexPath returns the store path for an index's descriptor.
func IndexPath(index string) string {
	return IndexesPath + "/" + index
}

// IndexShardPath returns the store path for one shard's descriptor under
// its owning index.
func IndexShardPath(index, shard string) string {
	return IndexPath(index) + "/" + shard
}

// NodeAssignmentsPath returns the folder a Worker subscribes to for its own
// assignments.
func NodeAssignmentsPath(node string) string {
	return NodeToShardPath + "/" + node
}

// NodeAssignmentPath returns the path of one assignment entry.
func NodeAssignmentPath(node, shard string) string {
	return NodeAssignmentsPath(node) + "/" + shard
}

// ShardReplicasPath returns the folder the Master and Query Coordinator
// watch for a shard's deployment records.
func ShardReplicasPath(shard string) string {
	return ShardToNodePath + "/" + shard
}

// ShardReplicaPath returns the path of one shard's deployment record on one
// node.
func ShardReplicaPath(shard, node string) string {
	return ShardReplicasPath(shard) + "/" + node
}

// SplitLast returns the final path segment, e.g. "/nodes/worker-1" -> "worker-1".
func SplitLast(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}
