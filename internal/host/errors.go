package host

import (
	"errors"
	"fmt"
)

// Load stages reported by LoadError.
const (
	StageABI      = "abi"
	StageOpen     = "open"
	StageSymbol   = "symbol"
	StageFactory  = "factory"
	StageRuntime  = "runtime"
	StageRegister = "register"
)

// LoadError is a per-plugin failure after the manifest validated.
type LoadError struct {
	EngineID string
	Path     string
	Stage    string
	Err      error
}

func (e *LoadError) Error() string {
	id := e.EngineID
	if id == "" {
		id = e.Path
	}
	return fmt.Sprintf("plugin %s: %s: %v", id, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoad reports whether err is a plugin load failure.
func IsLoad(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// LoadStage returns the failing stage of a LoadError, or "".
func LoadStage(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Stage
	}
	return ""
}

// ErrNoPluginDir is returned by restart staging before any directory was loaded.
var ErrNoPluginDir = errors.New("no engine plugin directory configured")
