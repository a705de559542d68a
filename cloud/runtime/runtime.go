// Package runtime defines the boundary to the cluster resource manager:
// resource offers in, task launches out, task status updates back.
// The scheduler consumes this interface; it never talks to agents
// directly.
package runtime

import (
	"fmt"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/cluster"
)

type TaskId string
type OfferId string

// Offer advertises free capacity on one agent for one offer cycle.
// An offer is only valid for the cycle it arrived in and may back any
// number of launches as long as its resources aren't exhausted.
type Offer struct {
	Id       OfferId
	AgentId  cluster.AgentId
	Hostname string
	Cpus     float64
	Mem      float64
	Ports    []int
}

func (o Offer) String() string {
	return fmt.Sprintf("{offer:%s agent:%s cpus:%v mem:%v ports:%d}",
		o.Id, o.AgentId, o.Cpus, o.Mem, len(o.Ports))
}

// TaskSpec is everything the runtime needs to start one instance.
type TaskSpec struct {
	TaskId    TaskId
	AppId     app.Path
	Cmd       string
	User      string
	Fetch     []string
	Container app.Container
	Cpus      float64
	Mem       float64
	Ports     []int
}

// TaskState is the runtime-level lifecycle, a subset of what the tracker
// derives from it.
type TaskState int

const (
	TaskStaging TaskState = iota
	TaskRunning
	TaskFailed
	TaskKilled
)

func (s TaskState) String() string {
	return [4]string{"TASK_STAGING", "TASK_RUNNING", "TASK_FAILED", "TASK_KILLED"}[s]
}

func (s TaskState) IsTerminal() bool {
	return s == TaskFailed || s == TaskKilled
}

// StatusUpdate reports a task state change. Updates for one task arrive
// in order; Seq is monotonic per task so duplicates and stale replays can
// be dropped.
type StatusUpdate struct {
	TaskId  TaskId
	State   TaskState
	Message string
	Seq     int64
}

// Runtime is the consumed resource manager interface.
type Runtime interface {
	// Offers delivers batches of resource offers, one batch per cycle.
	Offers() <-chan []Offer

	// Launch starts a task against an offer's resources. The runtime
	// rejects launches that would oversubscribe the offer's agent.
	Launch(offerId OfferId, spec TaskSpec) error

	// Kill asks the runtime to stop a task; a TASK_KILLED update follows.
	Kill(taskId TaskId) error

	// Updates delivers task status transitions.
	Updates() <-chan StatusUpdate
}
