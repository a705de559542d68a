package tracker

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/runtime"
	"github.com/waterline/helmsman/common/stats"
)

// Tracker holds every live task and applies runtime status updates to
// them. Updates for one task apply in order; duplicates and transitions
// that would move a terminal task backward are dropped.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[runtime.TaskId]*Task
	byApp map[app.Path]map[runtime.TaskId]*Task
	stat  stats.StatsReceiver
}

func NewTracker(stat stats.StatsReceiver) *Tracker {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Tracker{
		tasks: make(map[runtime.TaskId]*Task),
		byApp: make(map[app.Path]map[runtime.TaskId]*Task),
		stat:  stat,
	}
}

// TrackLaunched registers a task that was just launched, in STAGING.
func (t *Tracker) TrackLaunched(task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task.State = Staging
	t.tasks[task.Id] = task
	if t.byApp[task.AppId] == nil {
		t.byApp[task.AppId] = make(map[runtime.TaskId]*Task)
	}
	t.byApp[task.AppId][task.Id] = task
	t.stat.Counter("launchedTasksCounter").Inc(1)
	log.Infof("Tracking new task %s", task)
}

// ApplyUpdate applies one runtime status update. Returns the task and
// whether the update changed its state. Unknown tasks, stale sequence
// numbers and invalid transitions are all dropped.
func (t *Tracker) ApplyUpdate(update runtime.StatusUpdate) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[update.TaskId]
	if !ok {
		log.Infof("Dropping update for unknown task %s (%s)", update.TaskId, update.State)
		return nil, false
	}
	if update.Seq != 0 && update.Seq <= task.lastSeq {
		log.Infof("Dropping stale update for task %s: seq %d <= %d", task.Id, update.Seq, task.lastSeq)
		return task, false
	}
	task.lastSeq = update.Seq

	to := stateFromRuntime(update.State)
	if to == task.State {
		return task, false
	}
	if !validTransition(task.State, to) {
		log.Infof("Dropping invalid transition for task %s: %s -> %s", task.Id, task.State, to)
		t.stat.Counter("invalidTransitionsCounter").Inc(1)
		return task, false
	}

	log.Infof("Task %s: %s -> %s %s", task.Id, task.State, to, update.Message)
	task.State = to
	if update.Message != "" {
		task.Message = update.Message
	}
	return task, true
}

// stateFromRuntime maps runtime-level states into tracker states.
func stateFromRuntime(s runtime.TaskState) TaskState {
	switch s {
	case runtime.TaskStaging:
		return Staging
	case runtime.TaskRunning:
		return Running
	case runtime.TaskKilled:
		return Killed
	default:
		return Failed
	}
}

// SetHealth transitions a running task between Healthy and Unhealthy.
// Returns whether the state changed.
func (t *Tracker) SetHealth(taskId runtime.TaskId, healthy bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskId]
	if !ok {
		return false
	}
	to := Unhealthy
	if healthy {
		to = Healthy
	}
	if task.State == to || !validTransition(task.State, to) {
		return false
	}
	log.Infof("Task %s: %s -> %s (health check)", task.Id, task.State, to)
	task.State = to
	return true
}

// Remove forgets a task, freeing its slot. Late updates for removed tasks
// are dropped by ApplyUpdate.
func (t *Tracker) Remove(taskId runtime.TaskId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskId]
	if !ok {
		return
	}
	delete(t.tasks, taskId)
	delete(t.byApp[task.AppId], taskId)
	if len(t.byApp[task.AppId]) == 0 {
		delete(t.byApp, task.AppId)
	}
}

// Get returns a copy of the task with the given id.
func (t *Tracker) Get(taskId runtime.TaskId) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[taskId]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// TasksForApp returns copies of the app's tasks, oldest first.
func (t *Tracker) TasksForApp(path app.Path) []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Task
	for _, task := range t.byApp[path] {
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// LiveCount returns how many desired-count slots the app currently
// occupies.
func (t *Tracker) LiveCount(path app.Path) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, task := range t.byApp[path] {
		if task.State.IsLive() {
			n++
		}
	}
	return n
}

// NumTasks returns how many tasks are tracked across all apps.
func (t *Tracker) NumTasks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// Counts returns the runtime counters surfaced on an app: tasksRunning,
// tasksHealthy, tasksUnhealthy. Tasks without health checks never count
// as healthy or unhealthy.
func (t *Tracker) Counts(path app.Path) (running, healthy, unhealthy int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, task := range t.byApp[path] {
		if task.State.IsRunning() {
			running++
		}
		switch task.State {
		case Healthy:
			healthy++
		case Unhealthy:
			unhealthy++
		}
	}
	return running, healthy, unhealthy
}
