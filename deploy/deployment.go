package deploy

import (
	"fmt"
	"time"

	uuid "github.com/nu7hatch/gouuid"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/deploylog"
)

type Status int

const (
	// Waiting behind an active deployment on an overlapping path.
	Queued Status = iota

	// Steps being applied.
	Active

	// All steps converged.
	Completed

	// A step failed to apply; remaining steps abandoned.
	Failed

	// Canceled by a remove on an affected path; remaining steps
	// abandoned, whatever was applied stays applied.
	Canceled
)

func (s Status) String() string {
	return [5]string{"queued", "active", "completed", "failed", "canceled"}[s]
}

func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Canceled
}

// Deployment is one tracked unit of orchestrated change.
type Deployment struct {
	Id        string
	Plan      Plan
	Status    Status
	CreatedAt time.Time

	// Index of the step being applied; meaningful while Active.
	CurrentStep int

	// Whether the current step's effects have been applied and we're
	// waiting for convergence.
	stepApplied bool

	record *deploylog.Record
	err    error
}

func newDeployment(plan Plan) *Deployment {
	return &Deployment{
		Id:        generateDeploymentId(),
		Plan:      plan,
		Status:    Queued,
		CreatedAt: time.Now(),
	}
}

func (d *Deployment) String() string {
	return fmt.Sprintf("{deployment:%s status:%s step:%d/%d}",
		d.Id, d.Status, d.CurrentStep, len(d.Plan.Steps))
}

// Err returns why the deployment failed, if it did.
func (d *Deployment) Err() error {
	return d.err
}

func (d *Deployment) affects(path app.Path) bool {
	for _, p := range d.Plan.AffectedPaths() {
		if p == path || p.HasPrefix(path) || path.HasPrefix(p) {
			return true
		}
	}
	return false
}

// generates a deployment id using a random uuid
func generateDeploymentId() string {
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}
