// Package worker implements the Worker Node: hosts a set of shard
// replicas, serves shard-local search RPCs to the Query Coordinator, and
// reports shard deploy status and liveness through the metadata store.
package worker
