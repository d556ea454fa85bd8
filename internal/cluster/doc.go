// Package cluster defines the data model shared by every Katta component:
// indexes, shards, deployed-shard records, node descriptors, and the master
// election token, along with the store paths they live under and the
// lifecycle states they move through.
//
// Nothing in this package talks to the store directly — internal/store
// reads and writes these types, and internal/master, internal/worker, and
// internal/query reason about them in memory.
package cluster
