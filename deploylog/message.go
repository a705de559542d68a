package deploylog

import (
	"fmt"
)

type MessageType int

const (
	StartDeployment MessageType = iota
	EndDeployment
	AbortDeployment
	StartStep
	EndStep
)

func (t MessageType) String() string {
	switch t {
	case StartDeployment:
		return "Start Deployment"
	case EndDeployment:
		return "End Deployment"
	case AbortDeployment:
		return "Abort Deployment"
	case StartStep:
		return "Start Step"
	case EndStep:
		return "End Step"
	default:
		return "unknown"
	}
}

// Message is one entry in the DeploymentLog. Different MessageTypes use
// different fields; use the factory methods rather than building a Message
// directly.
type Message struct {
	DeploymentId string
	MsgType      MessageType
	StepId       int
	Data         []byte
}

func (m Message) String() string {
	return fmt.Sprintf("Message %s: Deployment %s, Step %d", m.MsgType, m.DeploymentId, m.StepId)
}

// StartDeployment carries the serialized plan so active deployments can be
// recovered from the log alone.
func MakeStartDeploymentMessage(deploymentId string, plan []byte) Message {
	return Message{
		DeploymentId: deploymentId,
		MsgType:      StartDeployment,
		StepId:       -1,
		Data:         plan,
	}
}

func MakeEndDeploymentMessage(deploymentId string) Message {
	return Message{
		DeploymentId: deploymentId,
		MsgType:      EndDeployment,
		StepId:       -1,
	}
}

// AbortDeployment marks a deployment canceled; remaining steps are never
// run.
func MakeAbortDeploymentMessage(deploymentId string) Message {
	return Message{
		DeploymentId: deploymentId,
		MsgType:      AbortDeployment,
		StepId:       -1,
	}
}

func MakeStartStepMessage(deploymentId string, stepId int, data []byte) Message {
	return Message{
		DeploymentId: deploymentId,
		MsgType:      StartStep,
		StepId:       stepId,
		Data:         data,
	}
}

func MakeEndStepMessage(deploymentId string, stepId int, data []byte) Message {
	return Message{
		DeploymentId: deploymentId,
		MsgType:      EndStep,
		StepId:       stepId,
		Data:         data,
	}
}
