package deploylog

import (
	"testing"
)

func TestInMemoryLogRoundTrip(t *testing.T) {
	dlog := MakeInMemoryLog()
	if err := dlog.StartDeployment("d1", []byte("plan")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := dlog.LogMessage(MakeStartStepMessage("d1", 0, nil)); err != nil {
		t.Fatalf("log: %v", err)
	}
	msgs, err := dlog.GetMessages("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].MsgType != StartDeployment || msgs[1].MsgType != StartStep {
		t.Errorf("unexpected message types %v, %v", msgs[0].MsgType, msgs[1].MsgType)
	}
}

func TestInMemoryLogErrors(t *testing.T) {
	dlog := MakeInMemoryLog()
	if err := dlog.LogMessage(MakeStartStepMessage("ghost", 0, nil)); err == nil {
		t.Errorf("expected error logging to unknown deployment")
	}
	dlog.StartDeployment("d1", nil)
	if err := dlog.StartDeployment("d1", nil); err == nil {
		t.Errorf("expected error restarting an existing deployment")
	}
}

func TestActiveDeployments(t *testing.T) {
	dlog := MakeInMemoryLog()
	dlog.StartDeployment("done", nil)
	dlog.LogMessage(MakeEndDeploymentMessage("done"))
	dlog.StartDeployment("aborted", nil)
	dlog.LogMessage(MakeAbortDeploymentMessage("aborted"))
	dlog.StartDeployment("active", nil)

	ids, err := dlog.ActiveDeployments()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(ids) != 1 || ids[0] != "active" {
		t.Errorf("expected only the active deployment, got %v", ids)
	}
}

func TestRecoverStateReplay(t *testing.T) {
	dlog := MakeInMemoryLog()
	dlog.StartDeployment("d1", []byte("plan"))
	dlog.LogMessage(MakeStartStepMessage("d1", 0, nil))
	dlog.LogMessage(MakeEndStepMessage("d1", 0, nil))
	dlog.LogMessage(MakeStartStepMessage("d1", 1, nil))

	state, err := RecoverState("d1", dlog)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if state == nil {
		t.Fatalf("expected state")
	}
	if string(state.Plan()) != "plan" {
		t.Errorf("plan not recovered: %q", state.Plan())
	}
	if !state.IsStepCompleted(0) {
		t.Errorf("step 0 should be completed")
	}
	if !state.IsStepStarted(1) || state.IsStepCompleted(1) {
		t.Errorf("step 1 should be started but not completed")
	}
	if state.IsCompleted() || state.IsAborted() {
		t.Errorf("deployment should still be in flight")
	}
}

func TestRecoverStateMissing(t *testing.T) {
	dlog := MakeInMemoryLog()
	state, err := RecoverState("nope", dlog)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for unknown deployment")
	}
}

func TestInvalidTransitions(t *testing.T) {
	dlog := MakeInMemoryLog()
	dlog.StartDeployment("d1", nil)
	dlog.LogMessage(MakeEndDeploymentMessage("d1"))

	state, _ := RecoverState("d1", dlog)
	if _, err := updateState(state, MakeStartStepMessage("d1", 0, nil)); err == nil {
		t.Errorf("expected error starting a step after completion")
	}

	dlog.StartDeployment("d2", nil)
	state2, _ := RecoverState("d2", dlog)
	if _, err := updateState(state2, MakeEndStepMessage("d2", 0, nil)); err == nil {
		t.Errorf("expected error ending a step that never started")
	}
}

func TestRecordLifecycle(t *testing.T) {
	dlog := MakeInMemoryLog()
	r, err := NewRecord("d1", []byte("plan"), dlog)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := r.StartStep(0, nil); err != nil {
		t.Fatalf("start step: %v", err)
	}
	if err := r.EndStep(0, nil); err != nil {
		t.Fatalf("end step: %v", err)
	}
	if err := r.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := r.StartStep(1, nil); err == nil {
		t.Errorf("expected error logging after a terminal message")
	}
	if !r.GetState().IsCompleted() {
		t.Errorf("expected completed state")
	}
}
