package scheduler

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/tracker"
)

// The scheduler is the deploy.Env: step effects run inside the loop, so
// they can touch loop-owned state without locking.

// ApplyStep performs a deployment step's effects.
func (s *statefulScheduler) ApplyStep(step deploy.Step) error {
	switch step.Kind {
	case deploy.StepPutApp:
		_, err := s.specs.PutApp(*step.Spec)
		return err

	case deploy.StepScaleApp:
		target := step.Instances
		if step.Factor != nil {
			if spec, ok := s.specs.GetApp(step.AppId); ok {
				target = int(math.Round(float64(spec.Instances) * *step.Factor))
			}
		}
		_, err := s.specs.SetInstances(step.AppId, target)
		return err

	case deploy.StepStopApp:
		s.stopping[step.AppId] = true
		s.matcher.CancelApp(step.AppId)
		for _, t := range s.tasks.TasksForApp(step.AppId) {
			if !t.State.IsLive() {
				continue
			}
			if err := s.rt.Kill(t.Id); err != nil {
				log.Errorf("Could not kill task %v while stopping app %s: %v", t.Id, step.AppId, err)
			}
		}
		return nil
	}
	return nil
}

// StepConverged reports whether the cluster has reached a step's target.
func (s *statefulScheduler) StepConverged(step deploy.Step) bool {
	switch step.Kind {
	case deploy.StepPutApp, deploy.StepScaleApp:
		return s.appConverged(step)

	case deploy.StepStopApp:
		if s.tasks.LiveCount(step.AppId) > 0 || s.matcher.PendingForApp(step.AppId) > 0 {
			return false
		}
		if _, ok := s.specs.GetApp(step.AppId); ok {
			if err := s.specs.RemoveApp(step.AppId); err != nil {
				log.Errorf("Could not remove drained app %s: %v", step.AppId, err)
			}
		}
		delete(s.stopping, step.AppId)
		return true
	}
	return true
}

// appConverged is true once the app runs exactly its desired number of
// instances on the current config version and, if it has health checks,
// every one of them is healthy. Tasks on an outdated config version
// still hold a slot until reconciliation replaces them, so an update is
// not done while any of them survive.
func (s *statefulScheduler) appConverged(step deploy.Step) bool {
	spec, ok := s.specs.GetApp(step.AppId)
	if !ok {
		return false
	}
	tasks := s.tasks.TasksForApp(step.AppId)
	live := 0
	settled := 0
	for _, t := range tasks {
		if !t.State.IsLive() {
			continue
		}
		live++
		if t.ConfigVersion != spec.ConfigVersion {
			continue
		}
		if spec.HasHealthChecks() {
			if t.State == tracker.Healthy {
				settled++
			}
		} else if t.State == tracker.Running {
			settled++
		}
	}
	return live == spec.Instances && settled == spec.Instances
}
