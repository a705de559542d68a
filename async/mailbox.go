// Package async provides tools for running work on goroutines and
// processing their results as callbacks inside a single event loop.
package async

// A Mailbox stores AsyncErrors and their associated callbacks and invokes
// each callback once its AsyncError has completed.
//
// Event loops often spawn goroutines to do concurrent work but still want
// the result handled back on the loop, where it is safe to touch loop
// state. The loop creates an AsyncError per piece of work, the goroutine
// calls SetValue when done, and the loop calls ProcessMessages each
// iteration to run the callbacks of whatever has finished.
//
// A Mailbox is not a concurrent structure and should only ever be accessed
// from a single goroutine. This ensures callbacks are executed in the same
// context, one at a time.
type Mailbox struct {
	msgs []message
}

// The function type of the callback invoked when an AsyncError completes.
type AsyncErrorResponseHandler func(error)

type message struct {
	Err      *AsyncError
	callback AsyncErrorResponseHandler
}

func newMessage(cb AsyncErrorResponseHandler) message {
	return message{
		Err:      newAsyncError(),
		callback: cb,
	}
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		msgs: make([]message, 0),
	}
}

func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// Creates a new AsyncError and associates the supplied callback with it.
// Once the AsyncError completes the callback is invoked on the next
// ProcessMessages.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := newMessage(cb)
	bx.msgs = append(bx.msgs, msg)
	return msg.Err
}

// Invokes and removes the callbacks of all completed AsyncErrors.
func (bx *Mailbox) ProcessMessages() {
	var pending []message
	for _, msg := range bx.msgs {
		ok, err := msg.Err.TryGetValue()
		if ok {
			msg.callback(err)
		} else {
			pending = append(pending, msg)
		}
	}
	bx.msgs = pending
}
