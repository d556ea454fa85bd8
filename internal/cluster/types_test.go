package cluster

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to IndexState
		want     bool
	}{
		{IndexAnnounced, IndexDeploying, true},
		{IndexAnnounced, IndexDeployed, false},
		{IndexDeploying, IndexDeployed, true},
		{IndexDeploying, IndexDeployError, true},
		{IndexDeployed, IndexReplicating, true},
		{IndexReplicating, IndexDeployed, true},
		{IndexReplicating, IndexDeployError, false},
		{IndexDeployError, IndexDeploying, true},
		{IndexDeployed, IndexDeployed, true}, // idempotent re-apply
		{IndexDeployError, IndexDeployed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNodeInfoAddr(t *testing.T) {
	n := NodeInfo{Host: "10.0.0.5", Port: 9100}
	if got := n.Addr(); got != "10.0.0.5:9100" {
		t.Errorf("Addr() = %q, want %q", got, "10.0.0.5:9100")
	}
}

func TestPathHelpers(t *testing.T) {
	if got := NodePath("worker-1"); got != "/nodes/worker-1" {
		t.Errorf("NodePath = %q", got)
	}
	if got := ShardReplicaPath("shard-0", "worker-1"); got != "/shard-to-node/shard-0/worker-1" {
		t.Errorf("ShardReplicaPath = %q", got)
	}
	if got := NodeAssignmentPath("worker-1", "shard-0"); got != "/node-to-shard/worker-1/shard-0" {
		t.Errorf("NodeAssignmentPath = %q", got)
	}
	if got := SplitLast("/shard-to-node/shard-0/worker-1"); got != "worker-1" {
		t.Errorf("SplitLast = %q", got)
	}
}
