package async

import (
	"errors"
	"testing"
	"time"
)

func TestRunnerInvokesCallbackWithResult(t *testing.T) {
	runner := NewRunner()
	var got error
	called := false
	runner.RunAsync(
		func() error { return errors.New("boom") },
		func(err error) {
			called = true
			got = err
		})

	deadline := time.Now().Add(5 * time.Second)
	for !called && time.Now().Before(deadline) {
		runner.ProcessMessages()
		time.Sleep(time.Millisecond)
	}
	if !called {
		t.Fatalf("callback never ran")
	}
	if got == nil || got.Error() != "boom" {
		t.Errorf("unexpected callback error %v", got)
	}
	if runner.NumRunning() != 0 {
		t.Errorf("completed work still counted as running: %d", runner.NumRunning())
	}
}

func TestProcessMessagesSkipsIncompleteWork(t *testing.T) {
	runner := NewRunner()
	release := make(chan struct{})
	done := false
	runner.RunAsync(
		func() error { <-release; return nil },
		func(error) { done = true })

	runner.ProcessMessages()
	if done {
		t.Fatalf("callback ran before the work completed")
	}
	if runner.NumRunning() != 1 {
		t.Errorf("expected one outstanding message, got %d", runner.NumRunning())
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for !done && time.Now().Before(deadline) {
		runner.ProcessMessages()
		time.Sleep(time.Millisecond)
	}
	if !done {
		t.Fatalf("callback never ran after the work completed")
	}
}

func TestMailboxRunsCallbacksInCompletionOrder(t *testing.T) {
	bx := NewMailbox()
	var order []int
	e1 := bx.NewAsyncError(func(error) { order = append(order, 1) })
	e2 := bx.NewAsyncError(func(error) { order = append(order, 2) })

	e2.SetValue(nil)
	bx.ProcessMessages()
	e1.SetValue(nil)
	bx.ProcessMessages()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("unexpected callback order %v", order)
	}
	if bx.Count() != 0 {
		t.Errorf("mailbox should be drained, has %d", bx.Count())
	}
}
