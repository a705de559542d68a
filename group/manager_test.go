package group

import (
	"testing"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/deploylog"
	"github.com/waterline/helmsman/store"
)

func makeManager() (*Manager, *store.Store, *deploy.Coordinator) {
	specs := store.NewStore()
	coord := deploy.NewCoordinator(deploylog.MakeInMemoryLog(), nil)
	return NewManager(specs, coord), specs, coord
}

func testSpec(id app.Path) app.AppSpec {
	return app.AppSpec{ID: id, Cmd: "true", Cpus: 1, Mem: 16, Instances: 1}
}

func TestPutAppRejectsBadSpecSynchronously(t *testing.T) {
	m, _, coord := makeManager()
	bad := testSpec("/myapp")
	bad.Cpus = -1
	if _, err := m.PutApp(bad); !app.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if coord.NumActive() != 0 {
		t.Errorf("a rejected put must not create a deployment")
	}
}

func TestPutAppCreatesSingleStepPlan(t *testing.T) {
	m, _, coord := makeManager()
	id, err := m.PutApp(testSpec("/myapp"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	d, ok := coord.Get(id)
	if !ok {
		t.Fatalf("deployment not found")
	}
	if len(d.Plan.Steps) != 1 || d.Plan.Steps[0].Kind != deploy.StepPutApp {
		t.Errorf("unexpected plan %v", d.Plan.Steps)
	}
	if d.Plan.Steps[0].Spec.Instances != 1 {
		t.Errorf("defaults must be applied before planning")
	}
}

func TestScaleAndRemoveRequireExistingApp(t *testing.T) {
	m, _, _ := makeManager()
	if _, err := m.ScaleApp("/ghost", 2); !app.IsNotFound(err) {
		t.Errorf("expected not found scaling, got %v", err)
	}
	if _, err := m.RemoveApp("/ghost"); !app.IsNotFound(err) {
		t.Errorf("expected not found removing, got %v", err)
	}
}

func TestPutGroupPlansAppsInDeclarationOrder(t *testing.T) {
	m, specs, coord := makeManager()
	g := app.Group{
		ID:   "/g",
		Apps: []app.AppSpec{testSpec("/g/b"), testSpec("/g/a")},
		Groups: []app.Group{
			{ID: "/g/sub", Apps: []app.AppSpec{testSpec("/g/sub/c")}},
		},
	}
	id, err := m.PutGroup(g)
	if err != nil {
		t.Fatalf("put group: %v", err)
	}
	d, _ := coord.Get(id)
	want := []app.Path{"/g/b", "/g/a", "/g/sub/c"}
	if len(d.Plan.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(d.Plan.Steps))
	}
	for i, p := range want {
		if d.Plan.Steps[i].AppId != p {
			t.Errorf("step %d targets %s, want %s", i, d.Plan.Steps[i].AppId, p)
		}
	}
	if !specs.IsGroup("/g") || !specs.IsGroup("/g/sub") {
		t.Errorf("expected group nodes to be registered")
	}
}

func TestPutGroupAllOrNothing(t *testing.T) {
	m, _, coord := makeManager()
	bad := testSpec("/g/b")
	bad.Mem = 0
	g := app.Group{ID: "/g", Apps: []app.AppSpec{testSpec("/g/a"), bad}}
	if _, err := m.PutGroup(g); !app.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if coord.NumActive() != 0 {
		t.Errorf("no deployment may exist when any member is invalid")
	}
}

func TestRemoveGroupConflictsWithoutForce(t *testing.T) {
	m, specs, _ := makeManager()
	m.PutGroup(app.Group{ID: "/g", Apps: []app.AppSpec{testSpec("/g/a")}})
	specs.PutApp(testSpec("/g/a"))

	if _, err := m.RemoveGroup("/g", false); !app.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
	if _, err := m.RemoveGroup("/nope", false); !app.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRemoveEmptyGroupIsImmediate(t *testing.T) {
	m, specs, _ := makeManager()
	m.PutGroup(app.Group{ID: "/empty"})
	id, err := m.RemoveGroup("/empty", false)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if id != "" {
		t.Errorf("an empty group needs no deployment, got id %q", id)
	}
	if specs.IsGroup("/empty") {
		t.Errorf("expected the group node to be gone")
	}
}

func TestScaleGroupCarriesFactor(t *testing.T) {
	m, specs, coord := makeManager()
	a := testSpec("/g/a")
	a.Instances = 1
	b := testSpec("/g/b")
	b.Instances = 3
	specs.PutApp(a)
	specs.PutApp(b)

	id, err := m.ScaleGroup("/g", 1.5)
	if err != nil {
		t.Fatalf("scale group: %v", err)
	}
	d, _ := coord.Get(id)
	if len(d.Plan.Steps) != 2 {
		t.Fatalf("expected one step per member, got %v", d.Plan.Steps)
	}
	for _, step := range d.Plan.Steps {
		if step.Kind != deploy.StepScaleApp {
			t.Fatalf("unexpected step kind %v", step.Kind)
		}
		// Targets are computed when the step applies, not here; a step
		// carrying a precomputed count would go stale while queued.
		if step.Factor == nil || *step.Factor != 1.5 {
			t.Errorf("step for %s does not carry the factor: %v", step.AppId, step)
		}
		if step.Instances != 0 {
			t.Errorf("step for %s carries a precomputed target %d", step.AppId, step.Instances)
		}
	}

	if _, err := m.ScaleGroup("/g", -1); !app.IsValidation(err) {
		t.Errorf("expected validation error for negative factor, got %v", err)
	}
}
