package master

import "testing"

func TestPlacement_ChooseNodeLeastLoaded(t *testing.T) {
	p := NewPlacement()
	p.SetReplica("shard-0", "node-a")
	p.SetReplica("shard-1", "node-a")
	p.SetReplica("shard-2", "node-b")

	node, ok := p.ChooseNode([]string{"node-a", "node-b", "node-c"}, "shard-3")
	if !ok {
		t.Fatal("expected a candidate node")
	}
	if node != "node-c" {
		t.Fatalf("expected least-loaded node-c, got %s", node)
	}
}

func TestPlacement_ChooseNodeTieBreaksByName(t *testing.T) {
	p := NewPlacement()
	node, ok := p.ChooseNode([]string{"node-z", "node-a", "node-m"}, "shard-0")
	if !ok || node != "node-a" {
		t.Fatalf("expected node-a on tie, got %s ok=%v", node, ok)
	}
}

func TestPlacement_ChooseNodeExcludesExistingReplicas(t *testing.T) {
	p := NewPlacement()
	p.SetReplica("shard-0", "node-a")
	node, ok := p.ChooseNode([]string{"node-a"}, "shard-0")
	if ok {
		t.Fatalf("expected no candidate, got %s", node)
	}
}

func TestPlacement_RemoveNode(t *testing.T) {
	p := NewPlacement()
	p.SetReplica("shard-0", "node-a")
	p.SetReplica("shard-1", "node-a")
	p.SetReplica("shard-1", "node-b")

	affected := p.RemoveNode("node-a")
	if len(affected) != 2 {
		t.Fatalf("expected 2 affected shards, got %v", affected)
	}
	if p.ReplicaCount("shard-0") != 0 {
		t.Fatalf("expected shard-0 to have no replicas")
	}
	if p.ReplicaCount("shard-1") != 1 {
		t.Fatalf("expected shard-1 to retain node-b's replica")
	}
	if p.HostsShard("shard-1", "node-a") {
		t.Fatal("node-a should no longer host shard-1")
	}
}

func TestPlacement_SetReplicaIdempotent(t *testing.T) {
	p := NewPlacement()
	p.SetReplica("shard-0", "node-a")
	p.SetReplica("shard-0", "node-a")
	if p.ReplicaCount("shard-0") != 1 {
		t.Fatalf("expected idempotent SetReplica, got count %d", p.ReplicaCount("shard-0"))
	}
}
