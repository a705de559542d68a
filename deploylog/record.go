package deploylog

import (
	"sync"
)

// Record is the live handle to one deployment's log. Methods validate the
// transition against the in-memory state, append to the DeploymentLog, and
// only then commit the new state, so the log never holds an invalid
// sequence.
type Record struct {
	id    string
	dlog  DeploymentLog
	state *State
	mu    sync.RWMutex
}

// NewRecord starts a deployment: logs StartDeployment and returns the
// handle.
func NewRecord(deploymentId string, plan []byte, dlog DeploymentLog) (*Record, error) {
	state, err := makeState(deploymentId, plan)
	if err != nil {
		return nil, err
	}
	if err := dlog.StartDeployment(deploymentId, plan); err != nil {
		return nil, err
	}
	return &Record{id: deploymentId, dlog: dlog, state: state}, nil
}

// RehydrateRecord wraps a recovered State without writing to the log.
func RehydrateRecord(deploymentId string, state *State, dlog DeploymentLog) *Record {
	return &Record{id: deploymentId, dlog: dlog, state: state}
}

func (r *Record) Id() string {
	return r.id
}

func (r *Record) GetState() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Record) StartStep(stepId int, data []byte) error {
	return r.update(MakeStartStepMessage(r.id, stepId, data))
}

func (r *Record) EndStep(stepId int, data []byte) error {
	return r.update(MakeEndStepMessage(r.id, stepId, data))
}

// End logs EndDeployment. Further updates will fail.
func (r *Record) End() error {
	return r.update(MakeEndDeploymentMessage(r.id))
}

// Abort marks the deployment canceled; its remaining steps never run.
func (r *Record) Abort() error {
	return r.update(MakeAbortDeploymentMessage(r.id))
}

func (r *Record) update(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := updateState(r.state, msg)
	if err != nil {
		return err
	}
	if err := r.dlog.LogMessage(msg); err != nil {
		return err
	}
	r.state = next
	return nil
}
