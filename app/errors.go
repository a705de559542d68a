package app

// ValidationError indicates a spec that was rejected before acceptance,
// e.g. non-positive resources or a malformed container definition.
type ValidationError struct {
	Msg string
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// ConflictError indicates a request that collides with existing state:
// an app where a group exists, removal of a non-empty group without
// cascade, or a put racing an active deployment on the same path.
type ConflictError struct {
	Msg string
}

func NewConflictError(msg string) *ConflictError {
	return &ConflictError{Msg: msg}
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// NotFoundError indicates a path with no stored app or group.
type NotFoundError struct {
	Msg string
}

func NewNotFoundError(msg string) *NotFoundError {
	return &NotFoundError{Msg: msg}
}

func (e *NotFoundError) Error() string {
	return e.Msg
}

func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

func IsConflict(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
