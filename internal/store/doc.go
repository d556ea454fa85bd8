// Package store is the Metadata Store Adapter: a thin typed facade over a
// hierarchical, watchable metadata store with ephemeral nodes and
// sequential create. It is backed by etcd (go.etcd.io/etcd/client/v3),
// whose key space, lease-based ephemeral keys, and watch API stand in for
// the ZooKeeper-like store the rest of the cluster is written against.
//
// Every other component — Worker, Master, Query Coordinator — talks to the
// cluster exclusively through an *Adapter; none of them import clientv3
// directly.
package store
