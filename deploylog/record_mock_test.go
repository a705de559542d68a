package deploylog

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
)

func TestRecordDoesNotCommitOnLogError(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	dlog := NewMockDeploymentLog(mockCtrl)
	dlog.EXPECT().StartDeployment("d1", gomock.Any()).Return(nil)
	r, err := NewRecord("d1", []byte("plan"), dlog)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}

	dlog.EXPECT().LogMessage(MakeStartStepMessage("d1", 0, nil)).Return(errors.New("log unavailable"))
	if err := r.StartStep(0, nil); err == nil {
		t.Fatalf("expected the log error to surface")
	}
	if r.GetState().IsStepStarted(0) {
		t.Errorf("in memory state must not advance when the durable write failed")
	}

	// The same message succeeds on retry and only then commits.
	dlog.EXPECT().LogMessage(MakeStartStepMessage("d1", 0, nil)).Return(nil)
	if err := r.StartStep(0, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !r.GetState().IsStepStarted(0) {
		t.Errorf("expected step 0 to be started after a successful write")
	}
}

func TestNewRecordPropagatesStartError(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	dlog := NewMockDeploymentLog(mockCtrl)
	dlog.EXPECT().StartDeployment("d1", gomock.Any()).Return(errors.New("log unavailable"))
	if _, err := NewRecord("d1", nil, dlog); err == nil {
		t.Errorf("expected error from NewRecord")
	}
}
