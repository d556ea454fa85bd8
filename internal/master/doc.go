// Package master implements the Placement Controller: the single active
// coordinator that assigns shard replicas to live Worker Nodes and drives
// each index through its lifecycle state machine. At most one instance is
// active cluster-wide at a time, decided by election over the metadata
// store; any number of standbys may run alongside it.
package master
