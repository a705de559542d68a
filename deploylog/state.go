package deploylog

import (
	"fmt"
)

type InvalidStateError struct {
	s string
}

func (e InvalidStateError) Error() string {
	return e.s
}

func NewInvalidStateError(msg string, args ...interface{}) error {
	return InvalidStateError{s: fmt.Sprintf(msg, args...)}
}

type stepFlag byte

const (
	stepStarted stepFlag = 1 << iota
	stepCompleted
)

// State is the progress of one deployment as rebuilt from its log
// messages.
type State struct {
	deploymentId string
	plan         []byte
	stepState    map[int]stepFlag
	aborted      bool
	completed    bool
}

func makeState(deploymentId string, plan []byte) (*State, error) {
	if deploymentId == "" {
		return nil, NewInvalidStateError("deploymentId cannot be empty")
	}
	return &State{
		deploymentId: deploymentId,
		plan:         plan,
		stepState:    make(map[int]stepFlag),
	}, nil
}

func (s *State) DeploymentId() string {
	return s.deploymentId
}

// Plan returns the serialized plan logged at StartDeployment.
func (s *State) Plan() []byte {
	return s.plan
}

func (s *State) IsStepStarted(stepId int) bool {
	return s.stepState[stepId]&stepStarted != 0
}

func (s *State) IsStepCompleted(stepId int) bool {
	return s.stepState[stepId]&stepCompleted != 0
}

func (s *State) IsAborted() bool {
	return s.aborted
}

func (s *State) IsCompleted() bool {
	return s.completed
}

// StepIds returns the ids of all steps that have been logged.
func (s *State) StepIds() []int {
	ids := make([]int, 0, len(s.stepState))
	for id := range s.stepState {
		ids = append(ids, id)
	}
	return ids
}

func (s *State) copy() *State {
	c := &State{
		deploymentId: s.deploymentId,
		plan:         s.plan,
		stepState:    make(map[int]stepFlag, len(s.stepState)),
		aborted:      s.aborted,
		completed:    s.completed,
	}
	for id, f := range s.stepState {
		c.stepState[id] = f
	}
	return c
}

// updateState applies msg to state and returns the new state, or an error
// if the transition is invalid. The input state is never mutated.
func updateState(state *State, msg Message) (*State, error) {
	if err := validateUpdate(state, msg); err != nil {
		return nil, err
	}
	next := state.copy()
	switch msg.MsgType {
	case EndDeployment:
		next.completed = true
	case AbortDeployment:
		next.aborted = true
	case StartStep:
		next.stepState[msg.StepId] |= stepStarted
	case EndStep:
		next.stepState[msg.StepId] |= stepCompleted
	}
	return next, nil
}

func validateUpdate(state *State, msg Message) error {
	if msg.DeploymentId != state.deploymentId {
		return NewInvalidStateError("message deployment %s does not match state %s", msg.DeploymentId, state.deploymentId)
	}
	if state.completed {
		return NewInvalidStateError("deployment %s is already completed, cannot log %s", state.deploymentId, msg.MsgType)
	}
	switch msg.MsgType {
	case StartDeployment:
		return NewInvalidStateError("deployment %s already started", state.deploymentId)
	case EndDeployment:
		// every started step must have completed, unless we aborted
		if !state.aborted {
			for id, f := range state.stepState {
				if f&stepStarted != 0 && f&stepCompleted == 0 {
					return NewInvalidStateError("deployment %s cannot end, step %d still in progress", state.deploymentId, id)
				}
			}
		}
	case AbortDeployment:
		// always valid on an incomplete deployment
	case StartStep:
		if state.aborted {
			return NewInvalidStateError("deployment %s is aborted, cannot start step %d", state.deploymentId, msg.StepId)
		}
		if state.IsStepCompleted(msg.StepId) {
			return NewInvalidStateError("deployment %s step %d already completed", state.deploymentId, msg.StepId)
		}
	case EndStep:
		if !state.IsStepStarted(msg.StepId) {
			return NewInvalidStateError("deployment %s step %d not started", state.deploymentId, msg.StepId)
		}
	}
	return nil
}
