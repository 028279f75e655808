package manager

import (
	"sync"
	"time"

	"llmnode/internal/engine"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateError    State = "error"
	StateDraining State = "draining"
)

// ModelInfo is a minimal view of the current model.
type ModelInfo struct {
	ID       string
	EngineID string
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}

// Instance is a model loaded into one engine.
type Instance struct {
	ID        string
	EngineID  string
	Builtin   bool
	State     State
	LastUsed  time.Time
	EstVRAMMB int

	desc   engine.ModelDescriptor
	engine engine.Engine
	// loadMu serializes the first load of the instance.
	loadMu sync.Mutex

	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}
