// Package tracker owns task identity and lifecycle. Tasks are created
// when a launch is placed and only ever move forward through their state
// machine; a replacement is always a brand new task with a new id.
package tracker

import (
	"fmt"
	"strings"
	"time"

	uuid "github.com/nu7hatch/gouuid"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime"
)

type TaskState int

const (
	// Launched against an offer, waiting for the runtime to start it.
	Staging TaskState = iota

	// Started on its agent.
	Running

	// Running and passing its configured health checks.
	Healthy

	// Running but failing its configured health checks.
	Unhealthy

	// Stopped on request. Terminal.
	Killed

	// Died or never started: process exit, fetch failure, bad user.
	// Terminal.
	Failed
)

func (s TaskState) String() string {
	return [6]string{"STAGING", "RUNNING", "HEALTHY", "UNHEALTHY", "KILLED", "FAILED"}[s]
}

func (s TaskState) IsTerminal() bool {
	return s == Killed || s == Failed
}

// IsLive reports whether the task still occupies a desired-count slot.
func (s TaskState) IsLive() bool {
	return !s.IsTerminal()
}

// IsRunning reports whether the task counts toward tasksRunning; health
// states imply running.
func (s TaskState) IsRunning() bool {
	return s == Running || s == Healthy || s == Unhealthy
}

// validTransition encodes the forward-only state machine. Terminal states
// never move.
func validTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case Staging:
		return to == Running || to == Failed || to == Killed
	case Running:
		return to == Healthy || to == Unhealthy || to == Failed || to == Killed
	case Healthy:
		return to == Unhealthy || to == Failed || to == Killed
	case Unhealthy:
		return to == Healthy || to == Failed || to == Killed
	}
	return false
}

// Task is one instantiation of an AppSpec.
type Task struct {
	Id         runtime.TaskId
	AppId      app.Path
	AppVersion string

	// ConfigVersion is the app's config version at launch. Tasks on a
	// stale config version get replaced by reconciliation.
	ConfigVersion string

	AgentId   cluster.AgentId
	Host      string
	Ports     []int
	State     TaskState
	Message   string
	StartedAt time.Time

	// Highest update sequence applied, for dropping stale replays.
	lastSeq int64
}

func (t *Task) String() string {
	return fmt.Sprintf("{task:%s app:%s state:%s host:%s ports:%v}",
		t.Id, t.AppId, t.State, t.Host, t.Ports)
}

// GenerateTaskId returns a fresh scheduler-assigned id for an instance of
// the given app. Ids are never reused, even when replacing "the same"
// underlying process.
func GenerateTaskId(appId app.Path) runtime.TaskId {
	base := strings.Join(appId.Segments(), "_")

	// uuid.NewV4() should never actually return an error; it reads from
	// a rand source that always succeeds.
	for {
		if id, err := uuid.NewV4(); err == nil {
			return runtime.TaskId(base + "." + id.String())
		}
	}
}
