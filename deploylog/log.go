// Package deploylog provides the append-only audit log of deployments.
// Each orchestrated change logs a StartDeployment message with its plan,
// Start/EndStep messages as steps progress, and a terminal End or Abort
// message. Deployment state can always be rebuilt by replaying messages,
// which is also how active deployments are recovered after a restart.
package deploylog

//go:generate mockgen -source=log.go -package=deploylog -destination=log_mock.go

// DeploymentLog is the durable store of deployment messages.
type DeploymentLog interface {
	// StartDeployment creates the log for a deployment with its
	// serialized plan.
	StartDeployment(deploymentId string, plan []byte) error

	// LogMessage appends a message to an existing deployment's log.
	LogMessage(msg Message) error

	// GetMessages returns all messages logged for the deployment, in
	// order. Returns nil if the deployment does not exist.
	GetMessages(deploymentId string) ([]Message, error)

	// ActiveDeployments returns the ids of deployments without a
	// terminal message.
	ActiveDeployments() ([]string, error)
}

// RecoverState rebuilds a deployment's State by replaying its log.
// Returns nil if no messages exist for the id.
func RecoverState(deploymentId string, dlog DeploymentLog) (*State, error) {
	msgs, err := dlog.GetMessages(deploymentId)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if msgs[0].MsgType != StartDeployment {
		return nil, NewInvalidStateError("deployment %s log does not begin with StartDeployment", deploymentId)
	}
	state, err := makeState(deploymentId, msgs[0].Data)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs[1:] {
		state, err = updateState(state, msg)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}
