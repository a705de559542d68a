// Package deploy sequences mutating operations into step plans and drives
// them to completion, one active deployment per app path at a time.
package deploy

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/waterline/helmsman/app"
)

type StepKind string

const (
	// StepPutApp stores a new app version and waits for its instances to
	// converge.
	StepPutApp StepKind = "putApp"

	// StepScaleApp updates only the desired instance count.
	StepScaleApp StepKind = "scaleApp"

	// StepStopApp kills all of an app's tasks and removes the spec once
	// drained.
	StepStopApp StepKind = "stopApp"
)

// Step is one unit of a deployment plan.
type Step struct {
	Kind      StepKind     `json:"kind"`
	AppId     app.Path     `json:"appId"`
	Spec      *app.AppSpec `json:"spec,omitempty"`
	Instances int          `json:"instances,omitempty"`

	// Factor, when set, scales the app's current instance count instead
	// of Instances. The target is computed when the step applies, so a
	// scale queued behind another deployment multiplies whatever count
	// that deployment leaves behind.
	Factor *float64 `json:"factor,omitempty"`
}

func (s Step) String() string {
	if s.Factor != nil {
		return fmt.Sprintf("{%s %s factor:%v}", s.Kind, s.AppId, *s.Factor)
	}
	return fmt.Sprintf("{%s %s instances:%d}", s.Kind, s.AppId, s.Instances)
}

// Plan is an ordered list of steps; steps apply strictly in order.
type Plan struct {
	Steps []Step `json:"steps"`
}

// AffectedPaths returns the app paths this plan touches, deduplicated.
func (p Plan) AffectedPaths() []app.Path {
	seen := map[app.Path]bool{}
	var paths []app.Path
	for _, s := range p.Steps {
		if !seen[s.AppId] {
			seen[s.AppId] = true
			paths = append(paths, s.AppId)
		}
	}
	return paths
}

// Serialize encodes the plan for the deployment log.
func (p Plan) Serialize() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize deployment plan")
	}
	return b, nil
}

// DeserializePlan decodes a plan logged at StartDeployment.
func DeserializePlan(b []byte) (Plan, error) {
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return Plan{}, errors.Wrap(err, "could not deserialize deployment plan")
	}
	return p, nil
}
