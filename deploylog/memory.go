package deploylog

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// In memory implementation of a DeploymentLog, does NOT durably persist
// messages.
type inMemoryLog struct {
	deployments map[string][]Message
	mutex       sync.RWMutex
}

func MakeInMemoryLog() DeploymentLog {
	return &inMemoryLog{
		deployments: make(map[string][]Message),
	}
}

func (l *inMemoryLog) StartDeployment(deploymentId string, plan []byte) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if _, ok := l.deployments[deploymentId]; ok {
		return errors.Errorf("deployment %s already exists in log", deploymentId)
	}
	l.deployments[deploymentId] = []Message{MakeStartDeploymentMessage(deploymentId, plan)}
	return nil
}

func (l *inMemoryLog) LogMessage(msg Message) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	msgs, ok := l.deployments[msg.DeploymentId]
	if !ok {
		return errors.Wrap(fmt.Errorf("deployment %s not started", msg.DeploymentId), "cannot log message")
	}
	l.deployments[msg.DeploymentId] = append(msgs, msg)
	return nil
}

func (l *inMemoryLog) GetMessages(deploymentId string) ([]Message, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	msgs := l.deployments[deploymentId]
	return append([]Message{}, msgs...), nil
}

func (l *inMemoryLog) ActiveDeployments() ([]string, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	var active []string
	for id, msgs := range l.deployments {
		terminal := false
		for _, m := range msgs {
			if m.MsgType == EndDeployment || m.MsgType == AbortDeployment {
				terminal = true
				break
			}
		}
		if !terminal {
			active = append(active, id)
		}
	}
	return active, nil
}
