package deploy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/common/stats"
	"github.com/waterline/helmsman/deploylog"
)

const waitPollInterval = 50 * time.Millisecond

// DeployTimeoutError is returned by Wait when the caller's budget runs
// out. It is advisory: the deployment itself keeps going.
type DeployTimeoutError struct {
	Id      string
	Timeout time.Duration
}

func (e *DeployTimeoutError) Error() string {
	return fmt.Sprintf("deployment %s did not complete within %v", e.Id, e.Timeout)
}

// Env is what the coordinator needs from the rest of the scheduler to
// apply and observe steps. Implemented by the scheduler loop.
type Env interface {
	// ApplyStep performs the step's effects (store writes, kill
	// commands). An error fails the whole deployment.
	ApplyStep(step Step) error

	// StepConverged reports whether the cluster has reached the step's
	// target.
	StepConverged(step Step) bool
}

// Coordinator owns the deployment registry. At most one active deployment
// may touch a given app path; later plans on overlapping paths queue FIFO
// behind it and never interleave.
type Coordinator struct {
	mu       sync.Mutex
	dlog     deploylog.DeploymentLog
	active   map[string]*Deployment
	queued   []*Deployment
	finished map[string]*Deployment
	stat     stats.StatsReceiver
}

func NewCoordinator(dlog deploylog.DeploymentLog, stat stats.StatsReceiver) *Coordinator {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Coordinator{
		dlog:     dlog,
		active:   make(map[string]*Deployment),
		finished: make(map[string]*Deployment),
		stat:     stat,
	}
}

// Recover rehydrates deployments that were active when the process last
// stopped by replaying their logs. Steps that had started but not
// completed are applied again; step effects are safe to repeat.
func (c *Coordinator) Recover() error {
	ids, err := c.dlog.ActiveDeployments()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		state, err := deploylog.RecoverState(id, c.dlog)
		if err != nil {
			return err
		}
		if state == nil || state.IsCompleted() || state.IsAborted() {
			continue
		}
		plan, err := DeserializePlan(state.Plan())
		if err != nil {
			return err
		}
		d := &Deployment{
			Id:        id,
			Plan:      plan,
			Status:    Active,
			CreatedAt: time.Now(),
			record:    deploylog.RehydrateRecord(id, state, c.dlog),
		}
		for d.CurrentStep < len(plan.Steps) && state.IsStepCompleted(d.CurrentStep) {
			d.CurrentStep++
		}
		c.active[id] = d
		log.Infof("Recovered active deployment %s at step %d of %d", id, d.CurrentStep, len(plan.Steps))
	}
	return nil
}

// Submit registers a plan as a new deployment. It activates immediately
// unless an active or queued deployment touches an overlapping path, in
// which case it queues behind it.
func (c *Coordinator) Submit(plan Plan) (string, error) {
	if len(plan.Steps) == 0 {
		return "", app.NewValidationError("deployment plan has no steps")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := newDeployment(plan)
	if c.overlapsLocked(d) {
		c.queued = append(c.queued, d)
		log.Infof("Queued deployment %s behind active work on overlapping paths", d.Id)
	} else {
		if err := c.activateLocked(d); err != nil {
			return "", err
		}
	}
	c.stat.Counter("deploymentsCounter").Inc(1)
	return d.Id, nil
}

// overlapsLocked reports whether d touches a path some earlier active or
// queued deployment touches.
func (c *Coordinator) overlapsLocked(d *Deployment) bool {
	for _, other := range c.active {
		for _, p := range d.Plan.AffectedPaths() {
			if other.affects(p) {
				return true
			}
		}
	}
	for _, other := range c.queued {
		for _, p := range d.Plan.AffectedPaths() {
			if other.affects(p) {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) activateLocked(d *Deployment) error {
	planBytes, err := d.Plan.Serialize()
	if err != nil {
		return err
	}
	record, err := deploylog.NewRecord(d.Id, planBytes, c.dlog)
	if err != nil {
		return err
	}
	d.record = record
	d.Status = Active
	d.CurrentStep = 0
	d.stepApplied = false
	c.active[d.Id] = d
	log.Infof("Activated deployment %s with %d step(s)", d.Id, len(d.Plan.Steps))
	return nil
}

// Advance applies and progresses every active deployment by at most one
// step transition. Called from the scheduler loop; Env callbacks run
// synchronously so they may touch loop state.
func (c *Coordinator) Advance(env Env) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.active {
		c.advanceOneLocked(d, env)
	}
	c.promoteQueuedLocked()
}

func (c *Coordinator) advanceOneLocked(d *Deployment, env Env) {
	for d.CurrentStep < len(d.Plan.Steps) {
		step := d.Plan.Steps[d.CurrentStep]
		if !d.stepApplied {
			if err := d.record.StartStep(d.CurrentStep, nil); err != nil {
				log.Errorf("Could not log StartStep for deployment %s: %v", d.Id, err)
				return
			}
			if err := env.ApplyStep(step); err != nil {
				log.Infof("Deployment %s failed at step %d (%s): %v", d.Id, d.CurrentStep, step, err)
				d.err = err
				c.finishLocked(d, Failed)
				return
			}
			d.stepApplied = true
		}
		if !env.StepConverged(step) {
			return
		}
		if err := d.record.EndStep(d.CurrentStep, nil); err != nil {
			log.Errorf("Could not log EndStep for deployment %s: %v", d.Id, err)
			return
		}
		d.CurrentStep++
		d.stepApplied = false
	}
	c.finishLocked(d, Completed)
}

func (c *Coordinator) finishLocked(d *Deployment, status Status) {
	switch status {
	case Completed:
		if err := d.record.End(); err != nil {
			log.Errorf("Could not log EndDeployment for %s: %v", d.Id, err)
		}
		log.Infof("Deployment %s completed", d.Id)
	case Failed, Canceled:
		if err := d.record.Abort(); err != nil {
			log.Errorf("Could not log AbortDeployment for %s: %v", d.Id, err)
		}
		log.Infof("Deployment %s %s", d.Id, status)
	}
	d.Status = status
	delete(c.active, d.Id)
	c.finished[d.Id] = d
}

// promoteQueuedLocked activates queued deployments, oldest first, whose
// paths are now free.
func (c *Coordinator) promoteQueuedLocked() {
	var stillQueued []*Deployment
	for _, d := range c.queued {
		blocked := false
		for _, other := range c.active {
			for _, p := range d.Plan.AffectedPaths() {
				if other.affects(p) {
					blocked = true
				}
			}
		}
		// Still behind an earlier queued deployment for the same paths.
		for _, other := range stillQueued {
			for _, p := range d.Plan.AffectedPaths() {
				if other.affects(p) {
					blocked = true
				}
			}
		}
		if blocked {
			stillQueued = append(stillQueued, d)
			continue
		}
		if err := c.activateLocked(d); err != nil {
			log.Errorf("Could not activate queued deployment %s: %v", d.Id, err)
			d.err = err
			d.Status = Failed
			c.finished[d.Id] = d
		}
	}
	c.queued = stillQueued
}

// Active returns a snapshot of every active and queued deployment.
func (c *Coordinator) Active() []Deployment {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Deployment
	for _, d := range c.active {
		out = append(out, *d)
	}
	for _, d := range c.queued {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CancelPath cancels any active or queued deployment touching path:
// remaining steps are abandoned, partially applied work stays as-is.
// Returns the ids of canceled deployments.
func (c *Coordinator) CancelPath(path app.Path) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var canceled []string
	for _, d := range c.active {
		if d.affects(path) {
			c.finishLocked(d, Canceled)
			canceled = append(canceled, d.Id)
		}
	}
	var kept []*Deployment
	for _, d := range c.queued {
		if d.affects(path) {
			d.Status = Canceled
			c.finished[d.Id] = d
			canceled = append(canceled, d.Id)
		} else {
			kept = append(kept, d)
		}
	}
	c.queued = kept
	if len(canceled) > 0 {
		log.Infof("Canceled %d deployment(s) touching %s", len(canceled), path)
	}
	return canceled
}

// Get returns a snapshot of the deployment with the given id.
func (c *Coordinator) Get(id string) (Deployment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.active[id]; ok {
		return *d, true
	}
	if d, ok := c.finished[id]; ok {
		return *d, true
	}
	for _, d := range c.queued {
		if d.Id == id {
			return *d, true
		}
	}
	return Deployment{}, false
}

// Status returns the deployment's current status.
func (c *Coordinator) Status(id string) (Status, bool) {
	d, ok := c.Get(id)
	return d.Status, ok
}

// NumActive returns how many deployments are currently applying steps.
func (c *Coordinator) NumActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Wait polls until the deployment reaches a terminal status or the
// timeout elapses. It holds no locks between polls. A failed or canceled
// deployment returns its error; a timeout returns DeployTimeoutError.
func (c *Coordinator) Wait(id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		d, ok := c.Get(id)
		if !ok {
			return app.NewNotFoundError(fmt.Sprintf("deployment %s does not exist", id))
		}
		switch d.Status {
		case Completed:
			return nil
		case Failed:
			if d.err != nil {
				return d.err
			}
			return fmt.Errorf("deployment %s failed", id)
		case Canceled:
			return fmt.Errorf("deployment %s was canceled", id)
		}
		if time.Now().After(deadline) {
			return &DeployTimeoutError{Id: id, Timeout: timeout}
		}
		time.Sleep(waitPollInterval)
	}
}
