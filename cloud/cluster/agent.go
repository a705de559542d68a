// Package cluster tracks the membership of the agent pool the scheduler
// launches tasks onto. Agents advertise total capacity; offers of free
// capacity arrive separately through the runtime boundary.
package cluster

import (
	"fmt"
)

type AgentId string

// Agent is one machine in the pool, with its total advertised capacity.
type Agent struct {
	Id        AgentId
	Hostname  string
	Cpus      float64
	Mem       float64
	PortBegin int
	PortEnd   int
}

func (a Agent) String() string {
	return fmt.Sprintf("{agent:%s host:%s cpus:%v mem:%v ports:[%d-%d]}",
		a.Id, a.Hostname, a.Cpus, a.Mem, a.PortBegin, a.PortEnd)
}

// NewAgent returns an agent with the given id (also used as hostname).
func NewAgent(id string, cpus, mem float64, portBegin, portEnd int) Agent {
	return Agent{
		Id:        AgentId(id),
		Hostname:  id,
		Cpus:      cpus,
		Mem:       mem,
		PortBegin: portBegin,
		PortEnd:   portEnd,
	}
}

type AgentUpdateType int

const (
	AgentAdded AgentUpdateType = iota
	AgentRemoved
)

// AgentUpdate represents a change to the cluster.
type AgentUpdate struct {
	UpdateType AgentUpdateType
	Id         AgentId
	Agent      Agent // Only set for adds
}

func (u AgentUpdate) String() string {
	return fmt.Sprintf("%v %v %v", u.UpdateType, u.Id, u.Agent)
}

func NewAdd(agent Agent) AgentUpdate {
	return AgentUpdate{
		UpdateType: AgentAdded,
		Id:         agent.Id,
		Agent:      agent,
	}
}

func NewRemove(id AgentId) AgentUpdate {
	return AgentUpdate{
		UpdateType: AgentRemoved,
		Id:         id,
	}
}

// AgentUpdates orders a batch of updates by agent id. Incoming batches
// are normalized to this order before being applied and fanned out.
type AgentUpdates []AgentUpdate

func (u AgentUpdates) Len() int           { return len(u) }
func (u AgentUpdates) Swap(i, j int)      { u[i], u[j] = u[j], u[i] }
func (u AgentUpdates) Less(i, j int) bool { return u[i].Id < u[j].Id }
