// Package scheduler contains the reconciliation loop that converges
// running tasks toward the desired state in the spec store. One goroutine
// owns all scheduling state; everything else communicates with it through
// channels or thread-safe components.
package scheduler

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/async"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime"
	"github.com/waterline/helmsman/common/stats"
	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/deploylog"
	"github.com/waterline/helmsman/health"
	"github.com/waterline/helmsman/offer"
	"github.com/waterline/helmsman/store"
	"github.com/waterline/helmsman/tracker"
)

const defaultLoopInterval = 250 * time.Millisecond

type SchedulerConfig struct {
	// DebugMode disables the background loop; tests drive the scheduler
	// by calling step() directly.
	DebugMode bool

	// RecoverDeployments replays the deployment log on startup and
	// resumes any deployment that was active when the process stopped.
	RecoverDeployments bool

	// LoopInterval is how long the loop sleeps when there is nothing to
	// do. Defaults to 250ms.
	LoopInterval time.Duration

	Matcher offer.MatcherConfig
	Checker health.CheckerConfig
}

type statefulScheduler struct {
	config       SchedulerConfig
	rt           runtime.Runtime
	specs        *store.Store
	matcher      *offer.Matcher
	tasks        *tracker.Tracker
	checker      *health.Checker
	coord        *deploy.Coordinator
	clusterState *clusterState
	asyncRunner  async.Runner
	stat         stats.StatsReceiver

	// Apps being drained by a stopApp step. Reconciliation skips these
	// so killed tasks are not relaunched while the removal converges.
	stopping map[app.Path]bool
}

// NewStatefulScheduler wires up the scheduling components and, unless
// config.DebugMode is set, starts the loop.
func NewStatefulScheduler(
	sub cluster.Subscription,
	rt runtime.Runtime,
	specs *store.Store,
	dlog deploylog.DeploymentLog,
	config SchedulerConfig,
	stat stats.StatsReceiver,
) *statefulScheduler {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	if config.LoopInterval == 0 {
		config.LoopInterval = defaultLoopInterval
	}

	s := &statefulScheduler{
		config:       config,
		rt:           rt,
		specs:        specs,
		matcher:      offer.NewMatcher(config.Matcher, stat),
		tasks:        tracker.NewTracker(stat),
		checker:      health.NewChecker(config.Checker, stat),
		coord:        deploy.NewCoordinator(dlog, stat),
		clusterState: newClusterState(sub.InitialMembers, sub.Updates),
		asyncRunner:  async.NewRunner(),
		stat:         stat,
		stopping:     make(map[app.Path]bool),
	}

	if config.RecoverDeployments {
		if err := s.coord.Recover(); err != nil {
			log.Errorf("Could not recover deployments: %v", err)
		}
	}

	if !config.DebugMode {
		go s.loop()
	}
	return s
}

// Coordinator exposes the deployment registry for the API layer.
func (s *statefulScheduler) Coordinator() *deploy.Coordinator {
	return s.coord
}

// Tracker exposes the task bookkeeping for the API layer.
func (s *statefulScheduler) Tracker() *tracker.Tracker {
	return s.tasks
}

func (s *statefulScheduler) loop() {
	for {
		s.step()
		time.Sleep(s.config.LoopInterval)
	}
}

// step runs one pass of the scheduling loop. Ordering matters: status
// updates and health events are absorbed before deployments are advanced,
// so convergence checks see current state, and reconciliation runs before
// offers are matched so fresh launch requests can place this pass.
func (s *statefulScheduler) step() {
	defer s.stat.Latency("schedStepLatency_ms").Time().Stop()

	s.clusterState.updateCluster()
	s.asyncRunner.ProcessMessages()
	s.processStatusUpdates()
	s.processHealthEvents()
	s.coord.Advance(s)
	s.reconcile()
	s.matchOffers()

	s.stat.Gauge("schedNumAgentsGauge").Update(int64(s.clusterState.numAgents()))
	s.stat.Gauge("schedIdleAgentsGauge").Update(int64(s.clusterState.numIdle()))
	s.stat.Gauge("schedPendingLaunchesGauge").Update(int64(s.matcher.Pending()))
	s.stat.Gauge("schedLiveTasksGauge").Update(int64(s.tasks.NumTasks()))
	s.stat.Gauge("schedActiveDeploymentsGauge").Update(int64(s.coord.NumActive()))
}

// processStatusUpdates drains the runtime update channel and applies each
// update to the tracker, starting or stopping health monitors and
// recording failures as tasks move through their lifecycle.
func (s *statefulScheduler) processStatusUpdates() {
	for {
		select {
		case update := <-s.rt.Updates():
			s.applyStatusUpdate(update)
		default:
			return
		}
	}
}

func (s *statefulScheduler) applyStatusUpdate(update runtime.StatusUpdate) {
	task, changed := s.tasks.ApplyUpdate(update)
	if task == nil || !changed {
		return
	}

	switch {
	case task.State == tracker.Running:
		if spec, ok := s.specs.GetApp(task.AppId); ok && spec.HasHealthChecks() {
			s.checker.Monitor(*task, spec.HealthChecks)
		}
	case task.State.IsTerminal():
		s.checker.Stop(task.Id)
		s.clusterState.taskCompleted(task.AgentId, task.Id)
		if task.State == tracker.Failed {
			s.specs.RecordTaskFailure(store.TaskFailure{
				AppId:     task.AppId,
				TaskId:    string(task.Id),
				State:     "TASK_FAILED",
				Message:   task.Message,
				Host:      task.Host,
				Version:   task.AppVersion,
				Timestamp: time.Now().UTC(),
			})
			s.stat.Counter("schedFailedTasksCounter").Inc(1)
		}
		s.tasks.Remove(task.Id)
	}
}

// processHealthEvents drains the checker's event channel. A Replace event
// kills the task; the resulting capacity gap is filled by reconcile with a
// fresh task id.
func (s *statefulScheduler) processHealthEvents() {
	for {
		select {
		case ev := <-s.checker.Events():
			s.tasks.SetHealth(ev.TaskId, ev.Healthy)
			if ev.Replace {
				log.Infof("Replacing unhealthy task %v of app %s", ev.TaskId, ev.AppId)
				s.stat.Counter("schedReplacedTasksCounter").Inc(1)
				taskId := ev.TaskId
				s.asyncRunner.RunAsync(
					func() error {
						return s.rt.Kill(taskId)
					},
					func(err error) {
						if err != nil {
							log.Errorf("Could not kill unhealthy task %v: %v", taskId, err)
						}
					})
			}
		default:
			return
		}
	}
}

// reconcile compares each app's desired instance count against live plus
// pending tasks and either enqueues launch requests or kills the newest
// excess tasks. Tasks launched from an outdated config version are
// killed too; the slots they free are filled on later passes with tasks
// on the current version.
func (s *statefulScheduler) reconcile() {
	for _, spec := range s.specs.ListApps() {
		if s.stopping[spec.ID] {
			continue
		}
		s.killOutdated(spec)
		live := s.tasks.LiveCount(spec.ID)
		pending := s.matcher.PendingForApp(spec.ID)
		total := live + pending

		for i := total; i < spec.Instances; i++ {
			req := &offer.LaunchRequest{
				TaskId:     tracker.GenerateTaskId(spec.ID),
				AppId:      spec.ID,
				Cpus:       spec.Cpus,
				Mem:        spec.Mem,
				NumPorts:   spec.NumPorts(),
				EnqueuedAt: time.Now(),
			}
			s.matcher.Enqueue(req)
		}
		if total > spec.Instances {
			s.shrinkApp(spec.ID, total-spec.Instances)
		}
	}
}

// killOutdated kills live tasks whose config version no longer matches
// the spec's. Scaling carries the config version over, so this only
// fires after a put that changed the app's definition.
func (s *statefulScheduler) killOutdated(spec app.AppSpec) {
	for _, t := range s.tasks.TasksForApp(spec.ID) {
		if !t.State.IsLive() || t.ConfigVersion == spec.ConfigVersion {
			continue
		}
		log.Infof("Replacing task %v of app %s, config version %s is outdated", t.Id, spec.ID, t.ConfigVersion)
		if err := s.rt.Kill(t.Id); err != nil {
			log.Errorf("Could not kill outdated task %v: %v", t.Id, err)
		}
	}
}

// shrinkApp removes excess capacity for an app: unplaced launch requests
// go first, then the newest live tasks are killed.
func (s *statefulScheduler) shrinkApp(path app.Path, excess int) {
	excess -= s.matcher.CancelNewest(path, excess)
	if excess <= 0 {
		return
	}
	tasks := s.tasks.TasksForApp(path)
	for i := len(tasks) - 1; i >= 0 && excess > 0; i-- {
		t := tasks[i]
		if !t.State.IsLive() {
			continue
		}
		log.Infof("Scaling down app %s, killing task %v", path, t.Id)
		if err := s.rt.Kill(t.Id); err != nil {
			log.Errorf("Could not kill task %v: %v", t.Id, err)
			continue
		}
		excess--
	}
}

// matchOffers drains any pending offer batch, matches it against queued
// launch requests and launches the assigned tasks.
func (s *statefulScheduler) matchOffers() {
	var offers []runtime.Offer
	select {
	case offers = <-s.rt.Offers():
	default:
		return
	}
	if len(offers) == 0 {
		return
	}

	assignments := s.matcher.Match(offers)
	for _, a := range assignments {
		s.launch(a)
	}
}

func (s *statefulScheduler) launch(a offer.Assignment) {
	spec, ok := s.specs.GetApp(a.Request.AppId)
	if !ok {
		// Removed while the request was queued.
		return
	}

	fetch := make([]string, 0, len(spec.Fetch))
	for _, f := range spec.Fetch {
		fetch = append(fetch, f.URI)
	}
	ts := runtime.TaskSpec{
		TaskId:    a.Request.TaskId,
		AppId:     spec.ID,
		Cmd:       spec.Cmd,
		User:      spec.User,
		Fetch:     fetch,
		Container: spec.Container,
		Cpus:      spec.Cpus,
		Mem:       spec.Mem,
		Ports:     a.Ports,
	}
	if err := s.rt.Launch(a.OfferId, ts); err != nil {
		log.Warnf("Launch of task %v on agent %v failed, requeueing: %v", a.Request.TaskId, a.AgentId, err)
		s.stat.Counter("schedFailedLaunchesCounter").Inc(1)
		s.matcher.Enqueue(a.Request)
		return
	}

	s.tasks.TrackLaunched(&tracker.Task{
		Id:            a.Request.TaskId,
		AppId:         spec.ID,
		AppVersion:    spec.Version,
		ConfigVersion: spec.ConfigVersion,
		AgentId:       a.AgentId,
		Host:          a.Hostname,
		Ports:         a.Ports,
		StartedAt:     time.Now(),
	})
	s.clusterState.taskScheduled(a.AgentId, a.Request.TaskId, spec.Cpus, spec.Mem)
	s.stat.Counter("schedLaunchedTasksCounter").Inc(1)
	log.Infof("Launched task %v of app %s on %s", a.Request.TaskId, spec.ID, a.Hostname)
}
