package async

// AsyncError is an async value that will eventually hold an error result,
// similar to a promise that only carries an error. The value is supplied by
// calling SetValue, after which the AsyncError is completed and the value
// can be read with TryGetValue.
type AsyncError struct {
	errCh     chan error
	val       error
	completed bool
}

func newAsyncError() *AsyncError {
	return &AsyncError{
		errCh: make(chan error, 1),
	}
}

// Sets the value for the AsyncError and marks it completed.
// Must only be called once per AsyncError; a second call panics.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
}

// Returns whether this AsyncError is completed, and if so its value.
// A pending AsyncError returns (false, nil).
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}
