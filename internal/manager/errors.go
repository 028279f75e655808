package manager

import "errors"

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// modelNotFoundError: the requested model id is not in the catalog.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a missing model id.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing external dependency
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// resourceExhaustedError: device memory admission refused the model.
type resourceExhaustedError struct{ msg string }

func (e resourceExhaustedError) Error() string { return e.msg }

// IsResourceExhausted reports whether err is a VRAM admission rejection.
// Callers should treat it as retryable backpressure.
func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}

// engineFaultError wraps a failure raised inside an engine call.
type engineFaultError struct {
	engineID string
	call     string
	err      error
}

func (e engineFaultError) Error() string {
	return "engine " + e.engineID + " failed in " + e.call + ": " + e.err.Error()
}

func (e engineFaultError) Unwrap() error { return e.err }

// IsEngineFault reports whether err came from an engine call.
func IsEngineFault(err error) bool {
	var e engineFaultError
	return errors.As(err, &e)
}

// invalidRequestError: the request cannot be served as given (400).
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// IsInvalidRequest reports whether err is a client-side request problem.
func IsInvalidRequest(err error) bool {
	var e invalidRequestError
	return errors.As(err, &e)
}
