package registry

import (
	"errors"
	"strings"
)

// duplicateEngineError signals a fresh registration reusing an active engine id.
type duplicateEngineError struct{ id string }

func (e duplicateEngineError) Error() string { return "engine_id already registered: " + e.id }

// IsDuplicate reports whether err is a duplicate engine_id registration.
func IsDuplicate(err error) bool {
	var d duplicateEngineError
	return errors.As(err, &d)
}

// noEngineError: nothing is registered for the descriptor's runtime.
type noEngineError struct{ runtime string }

func (e noEngineError) Error() string { return "no engine registered for runtime: " + e.runtime }

// formatError: engines exist for the runtime but none reads the model format.
type formatError struct{ runtime, format string }

func (e formatError) Error() string {
	return "no engine for runtime " + e.runtime + " supports format: " + e.format
}

// architectureError: no engine for the runtime supports any model architecture.
type architectureError struct {
	runtime       string
	architectures []string
}

func (e architectureError) Error() string {
	return "model architecture is not supported by any engine: " + strings.Join(e.architectures, ", ")
}

// capabilityError: an engine matched but lacks the requested capability.
type capabilityError struct{ runtime, capability string }

func (e capabilityError) Error() string {
	return "engine for runtime " + e.runtime + " does not support capability: " + e.capability
}

// IsNoEngine reports whether err means no engine is registered for a runtime.
func IsNoEngine(err error) bool {
	var e noEngineError
	return errors.As(err, &e)
}

// IsFormatUnsupported reports whether err is a model-format mismatch.
func IsFormatUnsupported(err error) bool {
	var e formatError
	return errors.As(err, &e)
}

// IsArchitectureUnsupported reports whether err is an architecture mismatch.
func IsArchitectureUnsupported(err error) bool {
	var e architectureError
	return errors.As(err, &e)
}

// IsCapabilityUnsupported reports whether err is a missing capability.
func IsCapabilityUnsupported(err error) bool {
	var e capabilityError
	return errors.As(err, &e)
}

// IsResolution reports whether err is any resolution failure.
func IsResolution(err error) bool {
	return IsNoEngine(err) || IsFormatUnsupported(err) || IsArchitectureUnsupported(err) || IsCapabilityUnsupported(err)
}
