package master

import "sort"

// Placement is the Master's in-memory shard->replica-node view, kept in
// sync with the /node-to-shard assignments the Master writes and the
// /shard-to-node replica reports it observes.
// The store remains the source of truth; this is a read-optimised replica
// so the placement policy never has to round-trip the store to make a
// decision.
type Placement struct {
	shardNodes map[string]map[string]struct{}
	nodeLoad   map[string]int
}

// NewPlacement returns an empty placement table.
func NewPlacement() *Placement {
	return &Placement{
		shardNodes: make(map[string]map[string]struct{}),
		nodeLoad:   make(map[string]int),
	}
}

// SetReplica records that node hosts a replica of shard.
func (p *Placement) SetReplica(shard, node string) {
	nodes, ok := p.shardNodes[shard]
	if !ok {
		nodes = make(map[string]struct{})
		p.shardNodes[shard] = nodes
	}
	if _, already := nodes[node]; already {
		return
	}
	nodes[node] = struct{}{}
	p.nodeLoad[node]++
}

// RemoveReplica records that node no longer hosts shard.
func (p *Placement) RemoveReplica(shard, node string) {
	nodes, ok := p.shardNodes[shard]
	if !ok {
		return
	}
	if _, present := nodes[node]; !present {
		return
	}
	delete(nodes, node)
	if len(nodes) == 0 {
		delete(p.shardNodes, shard)
	}
	p.nodeLoad[node]--
	if p.nodeLoad[node] <= 0 {
		delete(p.nodeLoad, node)
	}
}

// RemoveNode drops every replica attributed to node, e.g. on node
// disappearance. Returns the shards that lost a replica.
func (p *Placement) RemoveNode(node string) []string {
	var affected []string
	for shard, nodes := range p.shardNodes {
		if _, ok := nodes[node]; ok {
			delete(nodes, node)
			if len(nodes) == 0 {
				delete(p.shardNodes, shard)
			}
			affected = append(affected, shard)
		}
	}
	delete(p.nodeLoad, node)
	return affected
}

// ReplicaCount returns the number of nodes currently hosting shard.
func (p *Placement) ReplicaCount(shard string) int {
	return len(p.shardNodes[shard])
}

// HostsShard reports whether node already hosts a replica of shard.
func (p *Placement) HostsShard(shard, node string) bool {
	_, ok := p.shardNodes[shard][node]
	return ok
}

// NodesForShard returns the nodes currently hosting shard, in no
// particular order.
func (p *Placement) NodesForShard(shard string) []string {
	nodes := p.shardNodes[shard]
	out := make([]string, 0, len(nodes))
	for n := range nodes {
		out = append(out, n)
	}
	return out
}

// ChooseNode implements the placement policy of spec.md §4.3: the
// least-loaded live node not already hosting a replica of shard, ties
// broken by node name for determinism.
func (p *Placement) ChooseNode(liveNodes []string, shard string) (string, bool) {
	candidates := make([]string, 0, len(liveNodes))
	for _, n := range liveNodes {
		if !p.HostsShard(shard, n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := p.nodeLoad[candidates[i]], p.nodeLoad[candidates[j]]
		if li != lj {
			return li < lj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}
