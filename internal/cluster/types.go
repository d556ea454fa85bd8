package cluster

import (
	"strconv"
	"time"
)

// IndexState is the lifecycle state of a declared index.
//
// Valid transitions: ANNOUNCED -> DEPLOYING -> (DEPLOYED | DEPLOY_ERROR),
// DEPLOYED <-> REPLICATING. Any state can be deleted by an administrator.
type IndexState string

const (
	IndexAnnounced   IndexState = "ANNOUNCED"
	IndexDeploying   IndexState = "DEPLOYING"
	IndexDeployed    IndexState = "DEPLOYED"
	IndexDeployError IndexState = "DEPLOY_ERROR"
	IndexReplicating IndexState = "REPLICATING"
)

// DeployState is the per-(shard,node) replica state reported by a Worker.
type DeployState string

const (
	DeployAssigned DeployState = "ASSIGNED"
	DeployFetching DeployState = "FETCHING"
	DeployOpen     DeployState = "OPEN"
	DeployError    DeployState = "ERROR"
)

// Index is the persistent, administrator-declared description of a
// searchable index. Shards are derived once at announcement time and are
// immutable thereafter; only State and ErrorMessage change over the
// index's life.
type Index struct {
	Name             string     `json:"name"`
	Path             string     `json:"path"`
	Analyzer         string     `json:"analyzer"`
	ReplicationLevel int        `json:"replicationLevel"`
	State            IndexState `json:"state"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	Shards           []string   `json:"shards"`
}

// Shard is a named fragment of an Index's source data. ShardPath is an
// opaque URI resolved by the index engine (see internal/indexengine).
type Shard struct {
	Name      string `json:"name"`
	IndexName string `json:"indexName"`
	ShardPath string `json:"shardPath"`
}

// DeployedShard is the per-replica record at /shard-to-node/<shard>/<node>.
// The node hosting the replica creates it when it starts fetching the
// shard, updates it as it opens the shard data, and deletes it on release;
// the Master only reads it.
type DeployedShard struct {
	Shard        string      `json:"shard"`
	Node         string      `json:"node"`
	State        DeployState `json:"state"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	DocCount     int64       `json:"docCount,omitempty"`
}

// NodeInfo describes a live Worker. Its existence as an ephemeral store
// entry, not this struct, is the liveness signal — a NodeInfo value read
// from a stale cache must not be trusted once the store reports the
// corresponding path gone.
type NodeInfo struct {
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	StartTime time.Time `json:"startTime"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status,omitempty"`
}

// Addr returns the host:port a Query Coordinator or Master dials to reach
// this node's RPC listener.
func (n NodeInfo) Addr() string {
	if n.Port == 0 {
		return n.Host
	}
	return n.Host + ":" + strconv.Itoa(n.Port)
}

// Assignment is the content the Master writes at
// /node-to-shard/<node>/<shard>: the Master's intent that node serve
// shard. Its mere existence at that path is the authoritative signal per
// spec.md §3; Index is carried alongside so the Worker can resolve the
// shard's data location via IndexShardPath without a second round trip.
type Assignment struct {
	Shard string `json:"shard"`
	Index string `json:"index"`
}

// MasterToken is the content of the single well-known election entry.
// Its mere existence at /master means some process is the active Master;
// Name identifies which one.
type MasterToken struct {
	Name string `json:"name"`
}

// CanTransition reports whether moving from state `from` to state `to` is
// a legal index-state transition per the state machine in spec.md §4.3.
func CanTransition(from, to IndexState) bool {
	if from == to {
		return true // idempotent re-application
	}
	switch from {
	case IndexAnnounced:
		return to == IndexDeploying
	case IndexDeploying:
		return to == IndexDeployed || to == IndexDeployError
	case IndexDeployed:
		return to == IndexReplicating
	case IndexReplicating:
		return to == IndexDeployed
	case IndexDeployError:
		return to == IndexDeploying
	}
	return false
}
