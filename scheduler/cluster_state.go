package scheduler

import (
	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime"
)

// clusterState is the scheduler's view of the agent pool and the
// resources it has committed to tasks on each agent. It is only
// mutated from the scheduler loop, never concurrently.
type clusterState struct {
	updateCh chan []cluster.AgentUpdate
	agents   map[cluster.AgentId]*agentState
}

type agentState struct {
	agent         cluster.Agent
	runningTasks  map[runtime.TaskId]taskResources
	committedCpus float64
	committedMem  float64
}

type taskResources struct {
	cpus float64
	mem  float64
}

func newAgentState(a cluster.Agent) *agentState {
	return &agentState{
		agent:        a,
		runningTasks: make(map[runtime.TaskId]taskResources),
	}
}

func newClusterState(initial []cluster.Agent, updateCh chan []cluster.AgentUpdate) *clusterState {
	agents := make(map[cluster.AgentId]*agentState)
	for _, a := range initial {
		agents[a.Id] = newAgentState(a)
	}
	return &clusterState{
		updateCh: updateCh,
		agents:   agents,
	}
}

// updateCluster drains any pending membership updates and applies them.
func (c *clusterState) updateCluster() {
	if c.updateCh == nil {
		return
	}
	for {
		select {
		case updates, ok := <-c.updateCh:
			if !ok {
				c.updateCh = nil
				return
			}
			c.update(updates)
		default:
			return
		}
	}
}

func (c *clusterState) update(updates []cluster.AgentUpdate) {
	for _, update := range updates {
		switch update.UpdateType {
		case cluster.AgentAdded:
			if _, ok := c.agents[update.Id]; !ok {
				c.agents[update.Id] = newAgentState(update.Agent)
				log.Infof("agent added to cluster: %v (%s)", update.Id, update.Agent.Hostname)
			}
		case cluster.AgentRemoved:
			if as, ok := c.agents[update.Id]; ok {
				if len(as.runningTasks) > 0 {
					log.Warnf("agent removed with %d tasks still assigned: %v", len(as.runningTasks), update.Id)
				}
				delete(c.agents, update.Id)
				log.Infof("agent removed from cluster: %v", update.Id)
			}
		}
	}
}

// taskScheduled commits resources on an agent for a newly launched task.
func (c *clusterState) taskScheduled(agentId cluster.AgentId, taskId runtime.TaskId, cpus, mem float64) {
	as, ok := c.agents[agentId]
	if !ok {
		log.Warnf("task %v scheduled on unknown agent %v", taskId, agentId)
		return
	}
	as.runningTasks[taskId] = taskResources{cpus: cpus, mem: mem}
	as.committedCpus += cpus
	as.committedMem += mem
}

// taskCompleted releases the resources a terminal task held.
func (c *clusterState) taskCompleted(agentId cluster.AgentId, taskId runtime.TaskId) {
	as, ok := c.agents[agentId]
	if !ok {
		return
	}
	res, ok := as.runningTasks[taskId]
	if !ok {
		return
	}
	delete(as.runningTasks, taskId)
	as.committedCpus -= res.cpus
	as.committedMem -= res.mem
}

func (c *clusterState) numAgents() int {
	return len(c.agents)
}

func (c *clusterState) numIdle() int {
	idle := 0
	for _, as := range c.agents {
		if len(as.runningTasks) == 0 {
			idle++
		}
	}
	return idle
}
