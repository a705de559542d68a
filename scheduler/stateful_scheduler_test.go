package scheduler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime/fake"
	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/deploylog"
	"github.com/waterline/helmsman/group"
	"github.com/waterline/helmsman/health"
	"github.com/waterline/helmsman/offer"
	"github.com/waterline/helmsman/store"
	"github.com/waterline/helmsman/tracker"
)

// objects needed to drive a scheduler by hand in tests
type schedDeps struct {
	rt    *fake.Runtime
	specs *store.Store
	sched *statefulScheduler
	mgr   *group.Manager
}

func makeTestScheduler(t *testing.T, agents ...cluster.Agent) *schedDeps {
	if len(agents) == 0 {
		agents = []cluster.Agent{
			cluster.NewAgent("agent1", 4, 4096, 31000, 31009),
			cluster.NewAgent("agent2", 4, 4096, 31000, 31009),
		}
	}
	rt := fake.NewRuntime(agents...)
	specs := store.NewStore()
	sub := cluster.Subscription{
		InitialMembers: agents,
		Updates:        make(chan []cluster.AgentUpdate, 4),
	}
	sched := NewStatefulScheduler(sub, rt, specs, deploylog.MakeInMemoryLog(),
		SchedulerConfig{
			DebugMode: true,
			Matcher:   offer.MatcherConfig{BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond},
			Checker:   health.CheckerConfig{ProbeRetries: 1},
		}, nil)
	return &schedDeps{
		rt:    rt,
		specs: specs,
		sched: sched,
		mgr:   group.NewManager(specs, sched.Coordinator()),
	}
}

func testSpec(id app.Path, instances int) app.AppSpec {
	return app.AppSpec{
		ID:        id,
		Cmd:       "sleep 1000",
		Cpus:      0.5,
		Mem:       32,
		Instances: instances,
		Container: app.Container{Type: app.ContainerNative},
	}
}

// stepUntil cycles offers and steps the scheduler until cond holds.
func (d *schedDeps) stepUntil(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		d.rt.Cycle()
		d.sched.step()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (d *schedDeps) deployDone(t *testing.T, id string) func() bool {
	return func() bool {
		st, ok := d.sched.Coordinator().Status(id)
		if !ok {
			t.Fatalf("deployment %s disappeared", id)
		}
		return st.IsTerminal()
	}
}

func runningTasks(d *schedDeps, path app.Path) []tracker.Task {
	var out []tracker.Task
	for _, task := range d.sched.Tracker().TasksForApp(path) {
		if task.State.IsRunning() {
			out = append(out, task)
		}
	}
	return out
}

func TestLaunchApp(t *testing.T) {
	d := makeTestScheduler(t)
	id, err := d.mgr.PutApp(testSpec("/myapp", 3))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	d.stepUntil(t, "app deployment", d.deployDone(t, id))
	if st, _ := d.sched.Coordinator().Status(id); st != deploy.Completed {
		t.Fatalf("expected completed deployment, got %v", st)
	}
	if got := len(runningTasks(d, "/myapp")); got != 3 {
		t.Errorf("expected 3 running tasks, got %d", got)
	}
	if got := len(d.rt.RunningTasks()); got != 3 {
		t.Errorf("expected 3 tasks in the runtime, got %d", got)
	}
}

func TestScaleUpAndDown(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 1))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	up, err := d.mgr.ScaleApp("/myapp", 3)
	if err != nil {
		t.Fatalf("scale up: %v", err)
	}
	d.stepUntil(t, "scale up", d.deployDone(t, up))
	if got := len(runningTasks(d, "/myapp")); got != 3 {
		t.Fatalf("expected 3 running tasks, got %d", got)
	}

	down, err := d.mgr.ScaleApp("/myapp", 1)
	if err != nil {
		t.Fatalf("scale down: %v", err)
	}
	d.stepUntil(t, "scale down", d.deployDone(t, down))
	if got := len(runningTasks(d, "/myapp")); got != 1 {
		t.Errorf("expected 1 running task, got %d", got)
	}
	if got := len(d.rt.RunningTasks()); got != 1 {
		t.Errorf("expected 1 task in the runtime, got %d", got)
	}
}

func TestRemoveAppDrainsTasks(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 2))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	rm, err := d.mgr.RemoveApp("/myapp")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	d.stepUntil(t, "removal", d.deployDone(t, rm))

	if _, ok := d.specs.GetApp("/myapp"); ok {
		t.Errorf("expected app to be gone from the store")
	}
	if got := len(d.rt.RunningTasks()); got != 0 {
		t.Errorf("expected no tasks left, got %d", got)
	}
	if d.sched.Tracker().LiveCount("/myapp") != 0 {
		t.Errorf("expected no live tasks tracked")
	}
}

func TestFailedTaskIsReplaced(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 1))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	orig := runningTasks(d, "/myapp")
	if len(orig) != 1 {
		t.Fatalf("expected one task, got %d", len(orig))
	}
	d.rt.KillProcess(orig[0].Id)

	d.stepUntil(t, "replacement task", func() bool {
		ts := runningTasks(d, "/myapp")
		return len(ts) == 1 && ts[0].Id != orig[0].Id
	})

	f, ok := d.specs.LastTaskFailure("/myapp")
	if !ok {
		t.Fatalf("expected a failure record")
	}
	if f.Message != "Command exited with status 137" {
		t.Errorf("unexpected failure message %q", f.Message)
	}
	if f.TaskId != string(orig[0].Id) {
		t.Errorf("failure attributed to %q, want %q", f.TaskId, orig[0].Id)
	}
}

func TestLaunchFailsForUnknownUser(t *testing.T) {
	d := makeTestScheduler(t)
	spec := testSpec("/myapp", 1)
	spec.User = "nosuchuser"
	d.mgr.PutApp(spec)

	d.stepUntil(t, "failure record", func() bool {
		_, ok := d.specs.LastTaskFailure("/myapp")
		return ok
	})
	f, _ := d.specs.LastTaskFailure("/myapp")
	if f.Message != "Failed to get user information for 'nosuchuser'" {
		t.Errorf("unexpected failure message %q", f.Message)
	}
}

func TestLaunchFailsForMissingArtifact(t *testing.T) {
	d := makeTestScheduler(t)
	spec := testSpec("/myapp", 1)
	spec.Fetch = []app.FetchURI{{URI: "http://artifacts/app.tgz"}}
	d.mgr.PutApp(spec)

	d.stepUntil(t, "failure record", func() bool {
		_, ok := d.specs.LastTaskFailure("/myapp")
		return ok
	})
	f, _ := d.specs.LastTaskFailure("/myapp")
	want := "Failed to fetch all URIs for container: could not fetch 'http://artifacts/app.tgz'"
	if f.Message != want {
		t.Errorf("unexpected failure message %q", f.Message)
	}
}

func TestFetchSucceedsForRegisteredArtifact(t *testing.T) {
	d := makeTestScheduler(t)
	d.rt.AddArtifact("http://artifacts/app.tgz")
	spec := testSpec("/myapp", 1)
	spec.Fetch = []app.FetchURI{{URI: "http://artifacts/app.tgz"}}
	id, _ := d.mgr.PutApp(spec)

	d.stepUntil(t, "deployment", d.deployDone(t, id))
	if st, _ := d.sched.Coordinator().Status(id); st != deploy.Completed {
		t.Errorf("expected completed deployment, got %v", st)
	}
}

func TestGroupDeployment(t *testing.T) {
	d := makeTestScheduler(t)
	g := app.Group{
		ID: "/test-group",
		Apps: []app.AppSpec{
			testSpec("/test-group/sleep/goodnight", 2),
			testSpec("/test-group/sleep/goodnight2", 1),
		},
	}
	id, err := d.mgr.PutGroup(g)
	if err != nil {
		t.Fatalf("put group: %v", err)
	}
	d.stepUntil(t, "group deployment", d.deployDone(t, id))

	if got := len(runningTasks(d, "/test-group/sleep/goodnight")); got != 2 {
		t.Errorf("expected 2 tasks for the first member, got %d", got)
	}
	if got := len(runningTasks(d, "/test-group/sleep/goodnight2")); got != 1 {
		t.Errorf("expected 1 task for the second member, got %d", got)
	}
	if !d.specs.IsGroup("/test-group") || !d.specs.IsGroup("/test-group/sleep") {
		t.Errorf("expected group markers to exist")
	}
}

func TestScaleGroupMultiplies(t *testing.T) {
	d := makeTestScheduler(t)
	g := app.Group{
		ID: "/test-group",
		Apps: []app.AppSpec{
			testSpec("/test-group/a", 1),
			testSpec("/test-group/b", 2),
		},
	}
	id, _ := d.mgr.PutGroup(g)
	d.stepUntil(t, "group deployment", d.deployDone(t, id))

	scale, err := d.mgr.ScaleGroup("/test-group", 2)
	if err != nil {
		t.Fatalf("scale group: %v", err)
	}
	d.stepUntil(t, "group scale", d.deployDone(t, scale))

	if got := len(runningTasks(d, "/test-group/a")); got != 2 {
		t.Errorf("expected a to double to 2, got %d", got)
	}
	if got := len(runningTasks(d, "/test-group/b")); got != 4 {
		t.Errorf("expected b to double to 4, got %d", got)
	}
}

func TestQueuedGroupScaleUsesCurrentCounts(t *testing.T) {
	d := makeTestScheduler(t)
	g := app.Group{
		ID: "/g",
		Apps: []app.AppSpec{
			testSpec("/g/a", 1),
			testSpec("/g/b", 1),
		},
	}
	id, _ := d.mgr.PutGroup(g)
	d.stepUntil(t, "group deployment", d.deployDone(t, id))

	// Scale a member, then scale the whole group before either has a
	// chance to run. The group scale queues behind the member scale and
	// must multiply the counts that deployment produced, not the ones
	// current when it was submitted.
	memberScale, err := d.mgr.ScaleApp("/g/a", 2)
	if err != nil {
		t.Fatalf("scale app: %v", err)
	}
	groupScale, err := d.mgr.ScaleGroup("/g", 2)
	if err != nil {
		t.Fatalf("scale group: %v", err)
	}
	if st, _ := d.sched.Coordinator().Status(groupScale); st != deploy.Queued {
		t.Fatalf("expected the group scale to queue, got %v", st)
	}

	d.stepUntil(t, "both scales", func() bool {
		return d.deployDone(t, memberScale)() && d.deployDone(t, groupScale)()
	})
	if got := len(runningTasks(d, "/g/a")); got != 4 {
		t.Errorf("expected a to reach 2*2=4 tasks, got %d", got)
	}
	if got := len(runningTasks(d, "/g/b")); got != 2 {
		t.Errorf("expected b to reach 1*2=2 tasks, got %d", got)
	}
}

func TestRemoveGroup(t *testing.T) {
	d := makeTestScheduler(t)
	g := app.Group{
		ID:   "/test-group",
		Apps: []app.AppSpec{testSpec("/test-group/a", 1)},
	}
	id, _ := d.mgr.PutGroup(g)
	d.stepUntil(t, "group deployment", d.deployDone(t, id))

	if _, err := d.mgr.RemoveGroup("/test-group", false); !app.IsConflict(err) {
		t.Fatalf("expected conflict removing a non-empty group without force, got %v", err)
	}

	rm, err := d.mgr.RemoveGroup("/test-group", true)
	if err != nil {
		t.Fatalf("forced remove: %v", err)
	}
	d.stepUntil(t, "group removal", d.deployDone(t, rm))
	if len(d.rt.RunningTasks()) != 0 {
		t.Errorf("expected all tasks drained")
	}
	if d.specs.IsGroup("/test-group") {
		t.Errorf("expected group markers to be gone")
	}
}

func TestOverlappingDeploysSerialize(t *testing.T) {
	d := makeTestScheduler(t)
	first, _ := d.mgr.PutApp(testSpec("/myapp", 1))
	second, err := d.mgr.PutApp(testSpec("/myapp", 2))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if st, _ := d.sched.Coordinator().Status(second); st != deploy.Queued {
		t.Fatalf("expected the second put to queue, got %v", st)
	}

	d.stepUntil(t, "both deployments", func() bool {
		return d.deployDone(t, first)() && d.deployDone(t, second)()
	})
	if got := len(runningTasks(d, "/myapp")); got != 2 {
		t.Errorf("expected the queued put to win out with 2 tasks, got %d", got)
	}
}

func TestUpdatedAppReplacesRunningTasks(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 2))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	orig := map[string]bool{}
	for _, task := range runningTasks(d, "/myapp") {
		orig[string(task.Id)] = true
	}

	updated := testSpec("/myapp", 2)
	updated.Cmd = "sleep 2000"
	up, err := d.mgr.PutApp(updated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	d.stepUntil(t, "update rollout", d.deployDone(t, up))

	spec, _ := d.specs.GetApp("/myapp")
	ts := runningTasks(d, "/myapp")
	if len(ts) != 2 {
		t.Fatalf("expected 2 running tasks, got %d", len(ts))
	}
	for _, task := range ts {
		if orig[string(task.Id)] {
			t.Errorf("task %v survived a config change", task.Id)
		}
		if task.ConfigVersion != spec.ConfigVersion {
			t.Errorf("task %v runs config %q, want %q", task.Id, task.ConfigVersion, spec.ConfigVersion)
		}
	}
}

func TestScalingDoesNotRestartTasks(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 2))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	orig := map[string]bool{}
	for _, task := range runningTasks(d, "/myapp") {
		orig[string(task.Id)] = true
	}

	up, _ := d.mgr.ScaleApp("/myapp", 3)
	d.stepUntil(t, "scale up", d.deployDone(t, up))

	ts := runningTasks(d, "/myapp")
	if len(ts) != 3 {
		t.Fatalf("expected 3 running tasks, got %d", len(ts))
	}
	survived := 0
	for _, task := range ts {
		if orig[string(task.Id)] {
			survived++
		}
	}
	if survived != 2 {
		t.Errorf("scaling up must keep the original tasks, %d of 2 survived", survived)
	}
}

func TestTaskIdsNeverReused(t *testing.T) {
	d := makeTestScheduler(t)
	id, _ := d.mgr.PutApp(testSpec("/myapp", 1))
	d.stepUntil(t, "initial deployment", d.deployDone(t, id))

	seen := map[string]bool{}
	for _, task := range d.sched.Tracker().TasksForApp("/myapp") {
		seen[string(task.Id)] = true
	}
	for i := 0; i < 3; i++ {
		ts := runningTasks(d, "/myapp")
		if len(ts) != 1 {
			t.Fatalf("expected 1 running task, got %d", len(ts))
		}
		d.rt.KillProcess(ts[0].Id)
		d.stepUntil(t, "replacement", func() bool {
			cur := runningTasks(d, "/myapp")
			return len(cur) == 1 && cur[0].Id != ts[0].Id
		})
		cur := runningTasks(d, "/myapp")
		if seen[string(cur[0].Id)] {
			t.Fatalf("task id %s was reused", cur[0].Id)
		}
		seen[string(cur[0].Id)] = true
	}
}

func TestHealthCheckedAppConvergesAndReplaces(t *testing.T) {
	var status int32 = http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	// One agent whose hostname and single port point at the test server,
	// so probes of the allocated port actually land.
	agent := cluster.Agent{
		Id: "agent1", Hostname: u.Hostname(), Cpus: 4, Mem: 4096,
		PortBegin: port, PortEnd: port,
	}
	d := makeTestScheduler(t, agent)

	spec := testSpec("/web", 1)
	spec.Container = app.Container{
		Type: app.ContainerDocker,
		Docker: &app.DockerSpec{
			Image:        "myregistry/web:1",
			PortMappings: []app.PortMapping{{ContainerPort: 8080}},
		},
	}
	spec.HealthChecks = []app.HealthCheck{{
		Protocol:               "HTTP",
		Path:                   "/",
		Interval:               20 * time.Millisecond,
		Timeout:                time.Second,
		HealthyThreshold:       1,
		MaxConsecutiveFailures: 2,
	}}

	id, err := d.mgr.PutApp(spec)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	d.stepUntil(t, "healthy deployment", d.deployDone(t, id))
	if st, _ := d.sched.Coordinator().Status(id); st != deploy.Completed {
		t.Fatalf("expected completion once healthy, got %v", st)
	}

	tasks := d.sched.Tracker().TasksForApp("/web")
	if len(tasks) != 1 || tasks[0].State != tracker.Healthy {
		t.Fatalf("expected one healthy task, got %+v", tasks)
	}
	origId := tasks[0].Id

	// The endpoint starts failing; after MaxConsecutiveFailures the task
	// is killed and replaced under a fresh id.
	atomic.StoreInt32(&status, http.StatusInternalServerError)
	d.stepUntil(t, "replacement after failed checks", func() bool {
		ts := runningTasks(d, "/web")
		return len(ts) == 1 && ts[0].Id != origId
	})
	if !strings.HasPrefix(string(origId), "web.") {
		t.Errorf("unexpected task id shape %s", origId)
	}
}
