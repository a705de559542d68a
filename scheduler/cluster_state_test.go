package scheduler

import (
	"testing"

	"github.com/waterline/helmsman/cloud/cluster"
)

func TestClusterStateMembership(t *testing.T) {
	ch := make(chan []cluster.AgentUpdate, 4)
	cs := newClusterState([]cluster.Agent{cluster.NewAgent("host1", 4, 1024, 31000, 31999)}, ch)
	if cs.numAgents() != 1 || cs.numIdle() != 1 {
		t.Fatalf("expected one idle agent, got %d/%d", cs.numAgents(), cs.numIdle())
	}

	ch <- []cluster.AgentUpdate{cluster.NewAdd(cluster.NewAgent("host2", 4, 1024, 31000, 31999))}
	ch <- []cluster.AgentUpdate{cluster.NewRemove("host1")}
	cs.updateCluster()
	if cs.numAgents() != 1 {
		t.Errorf("expected host2 only, got %d agents", cs.numAgents())
	}
	if _, ok := cs.agents["host2"]; !ok {
		t.Errorf("host2 missing after updates")
	}
}

func TestClusterStateResourceAccounting(t *testing.T) {
	cs := newClusterState([]cluster.Agent{cluster.NewAgent("host1", 4, 1024, 31000, 31999)}, nil)

	cs.taskScheduled("host1", "t1", 1, 256)
	cs.taskScheduled("host1", "t2", 2, 512)
	as := cs.agents["host1"]
	if as.committedCpus != 3 || as.committedMem != 768 {
		t.Errorf("unexpected committed resources %v/%v", as.committedCpus, as.committedMem)
	}
	if cs.numIdle() != 0 {
		t.Errorf("agent with tasks should not be idle")
	}

	cs.taskCompleted("host1", "t1")
	cs.taskCompleted("host1", "t1") // repeated completion is a no-op
	if as.committedCpus != 2 || as.committedMem != 512 {
		t.Errorf("unexpected committed resources after completion %v/%v", as.committedCpus, as.committedMem)
	}

	// Tasks on unknown agents are dropped, not tracked.
	cs.taskScheduled("ghost", "t3", 1, 1)
	cs.taskCompleted("ghost", "t3")
	if cs.numAgents() != 1 {
		t.Errorf("unknown agent must not be created implicitly")
	}
}
