// Package query implements the Query Coordinator: it parses a query
// string, resolves which shard replicas can answer it from a watch-fed
// shard-map cache, and drives the two-phase scatter/gather (docFreqs then
// search) across Worker Nodes before merging their results into one
// ranked, detail-hydrated answer (spec.md §4.4).
package query
