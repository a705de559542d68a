// Package group translates app and group level requests into deployment
// plans. It validates against the spec store synchronously, so callers
// get ValidationError and ConflictError back before a deployment is
// accepted, then submits the plan to the coordinator.
package group

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/store"
)

type Manager struct {
	specs *store.Store
	coord *deploy.Coordinator
}

func NewManager(specs *store.Store, coord *deploy.Coordinator) *Manager {
	return &Manager{specs: specs, coord: coord}
}

// PutApp creates or updates a single app through a one step deployment.
// Returns the deployment id.
func (m *Manager) PutApp(spec app.AppSpec) (string, error) {
	spec = spec.WithDefaults()
	if err := m.specs.ValidatePut(spec); err != nil {
		return "", err
	}
	s := spec
	plan := deploy.Plan{Steps: []deploy.Step{
		{Kind: deploy.StepPutApp, AppId: spec.ID, Spec: &s},
	}}
	return m.coord.Submit(plan)
}

// RemoveApp drains and deletes the app at path. Any in-flight deployment
// touching the path is canceled first; its remaining steps are abandoned.
func (m *Manager) RemoveApp(path app.Path) (string, error) {
	if _, ok := m.specs.GetApp(path); !ok {
		return "", app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path))
	}
	if canceled := m.coord.CancelPath(path); len(canceled) > 0 {
		log.Infof("Canceled deployments %v to remove app %s", canceled, path)
	}
	plan := deploy.Plan{Steps: []deploy.Step{
		{Kind: deploy.StepStopApp, AppId: path},
	}}
	return m.coord.Submit(plan)
}

// ScaleApp sets the desired instance count of a single app.
func (m *Manager) ScaleApp(path app.Path, instances int) (string, error) {
	if _, ok := m.specs.GetApp(path); !ok {
		return "", app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path))
	}
	if instances < 0 {
		return "", app.NewValidationError(fmt.Sprintf("app %s: instances must be >= 0, got %d", path, instances))
	}
	plan := deploy.Plan{Steps: []deploy.Step{
		{Kind: deploy.StepScaleApp, AppId: path, Instances: instances},
	}}
	return m.coord.Submit(plan)
}

// PutGroup creates or updates a whole group tree in one deployment, with
// one putApp step per member in declaration order. The tree is validated
// up front; nothing is deployed if any member is invalid.
func (m *Manager) PutGroup(g app.Group) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	var steps []deploy.Step
	var walkErr error
	g.EachApp(func(a *app.AppSpec) {
		if walkErr != nil {
			return
		}
		spec := a.WithDefaults()
		if err := m.specs.ValidatePut(spec); err != nil {
			walkErr = err
			return
		}
		steps = append(steps, deploy.Step{Kind: deploy.StepPutApp, AppId: spec.ID, Spec: &spec})
	})
	if walkErr != nil {
		return "", walkErr
	}

	if err := m.registerGroups(g); err != nil {
		return "", err
	}
	if len(steps) == 0 {
		// A bare tree of group nodes deploys instantly.
		return "", nil
	}
	return m.coord.Submit(deploy.Plan{Steps: steps})
}

func (m *Manager) registerGroups(g app.Group) error {
	if err := m.specs.RegisterGroup(g.ID); err != nil {
		return err
	}
	for _, sub := range g.Groups {
		if err := m.registerGroups(sub); err != nil {
			return err
		}
	}
	return nil
}

// RemoveGroup drains and deletes every app under path and drops the group
// nodes. Without force a non-empty group is a conflict.
func (m *Manager) RemoveGroup(path app.Path, force bool) (string, error) {
	if !m.specs.IsGroup(path) {
		return "", app.NewNotFoundError(fmt.Sprintf("group %s does not exist", path))
	}
	apps := m.specs.AppsUnder(path)
	if len(apps) > 0 && !force {
		return "", app.NewConflictError(fmt.Sprintf("group %s is not empty", path))
	}

	if canceled := m.coord.CancelPath(path); len(canceled) > 0 {
		log.Infof("Canceled deployments %v to remove group %s", canceled, path)
	}
	m.specs.RemoveGroupNode(path)

	if len(apps) == 0 {
		return "", nil
	}
	var steps []deploy.Step
	for _, spec := range apps {
		steps = append(steps, deploy.Step{Kind: deploy.StepStopApp, AppId: spec.ID})
	}
	return m.coord.Submit(deploy.Plan{Steps: steps})
}

// ScaleGroup multiplies the instance count of every app under path by
// factor, rounding to nearest. The steps carry the factor itself; targets
// are computed only when each step applies, so a scale queued behind
// another deployment acts on the counts that deployment produced.
func (m *Manager) ScaleGroup(path app.Path, factor float64) (string, error) {
	if !m.specs.IsGroup(path) {
		return "", app.NewNotFoundError(fmt.Sprintf("group %s does not exist", path))
	}
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return "", app.NewValidationError(fmt.Sprintf("group %s: scaleBy must be a finite value >= 0, got %v", path, factor))
	}
	apps := m.specs.AppsUnder(path)
	if len(apps) == 0 {
		return "", app.NewValidationError(fmt.Sprintf("group %s has no apps to scale", path))
	}

	var steps []deploy.Step
	for _, spec := range apps {
		f := factor
		steps = append(steps, deploy.Step{Kind: deploy.StepScaleApp, AppId: spec.ID, Factor: &f})
	}
	return m.coord.Submit(deploy.Plan{Steps: steps})
}
