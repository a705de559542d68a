package async

// A Runner spawns goroutines to run functions and associates callbacks
// with them, building on Mailbox. The callbacks run synchronously on the
// goroutine that calls ProcessMessages, so an event loop can use them to
// safely modify loop state.
type Runner struct {
	bx *Mailbox
}

func NewRunner() Runner {
	return Runner{
		bx: NewMailbox(),
	}
}

func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync runs f on a new goroutine. The callback cb is invoked with f's
// result during a later ProcessMessages call.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	go func(rsp *AsyncError) {
		err := f()
		rsp.SetValue(err)
	}(asyncErr)
}

// Invokes the callbacks of all completed async functions.
func (r *Runner) ProcessMessages() {
	r.bx.ProcessMessages()
}
