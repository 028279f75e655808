// Package registry indexes live engines by id and runtime and resolves a
// model descriptor to the engine that should serve it.
//
// The registry holds non-owning references: engine instances and the
// libraries behind them belong to the host. Register rejects a reused
// engine_id; Replace is the hot-swap path and is expected to reuse one.
package registry

import (
	"errors"
	"sort"
	"sync"

	"llmnode/internal/engine"
)

// Registration is the subset of plugin metadata the registry indexes.
type Registration struct {
	EngineID      string
	EngineVersion string
	Formats       []string
	Architectures []string
	Capabilities  []string
	// Builtin marks statically linked default engines. Externally loaded
	// engines win ties against them.
	Builtin bool
}

// Info is a read-only view of one registered engine.
type Info struct {
	EngineID      string   `json:"engine_id"`
	EngineVersion string   `json:"engine_version"`
	Runtime       string   `json:"runtime"`
	Formats       []string `json:"formats,omitempty"`
	Architectures []string `json:"architectures,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Builtin       bool     `json:"builtin"`
}

// Match is the result of a successful resolution.
type Match struct {
	Engine   engine.Engine
	EngineID string
	Builtin  bool
}

type entry struct {
	reg     Registration
	runtime string
	engine  engine.Engine
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byRuntime map[string][]*entry
	byID      map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byRuntime: make(map[string][]*entry),
		byID:      make(map[string]*entry),
	}
}

func normalize(e engine.Engine, reg Registration) (*entry, error) {
	if e == nil {
		return nil, errors.New("engine is nil")
	}
	rt := e.Runtime()
	if reg.EngineID == "" {
		reg.EngineID = rt
	}
	if reg.EngineVersion == "" {
		reg.EngineVersion = "builtin"
	}
	return &entry{reg: reg, runtime: rt, engine: e}, nil
}

// Register adds an engine under a new engine_id.
func (r *Registry) Register(e engine.Engine, reg Registration) error {
	ent, err := normalize(e, reg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[ent.reg.EngineID]; ok {
		return duplicateEngineError{id: ent.reg.EngineID}
	}
	r.byID[ent.reg.EngineID] = ent
	r.byRuntime[ent.runtime] = append(r.byRuntime[ent.runtime], ent)
	return nil
}

// Replace atomically swaps the engine registered under reg.EngineID and returns
// the previous instance (nil if the id was not registered). A replacement for
// the same runtime keeps its position in resolution order.
func (r *Registry) Replace(e engine.Engine, reg Registration) (engine.Engine, error) {
	ent, err := normalize(e, reg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[ent.reg.EngineID]
	r.byID[ent.reg.EngineID] = ent
	if !ok {
		r.byRuntime[ent.runtime] = append(r.byRuntime[ent.runtime], ent)
		return nil, nil
	}
	list := r.byRuntime[old.runtime]
	for i, cur := range list {
		if cur != old {
			continue
		}
		if old.runtime == ent.runtime {
			list[i] = ent
		} else {
			r.byRuntime[old.runtime] = append(list[:i:i], list[i+1:]...)
			if len(r.byRuntime[old.runtime]) == 0 {
				delete(r.byRuntime, old.runtime)
			}
			r.byRuntime[ent.runtime] = append(r.byRuntime[ent.runtime], ent)
		}
		break
	}
	return old.engine, nil
}

// Lookup returns the engine registered under id.
func (r *Registry) Lookup(id string) (engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return ent.engine, true
}

// EngineIDCount reports the number of distinct registered engine ids.
func (r *Registry) EngineIDCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Runtimes lists runtimes with at least one engine, sorted.
func (r *Registry) Runtimes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byRuntime))
	for rt := range r.byRuntime {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}

// Engines returns a snapshot of all registrations ordered by runtime, then
// resolution order.
func (r *Registry) Engines() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runtimes := make([]string, 0, len(r.byRuntime))
	for rt := range r.byRuntime {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)
	var out []Info
	for _, rt := range runtimes {
		for _, ent := range r.byRuntime[rt] {
			out = append(out, Info{
				EngineID:      ent.reg.EngineID,
				EngineVersion: ent.reg.EngineVersion,
				Runtime:       ent.runtime,
				Formats:       append([]string(nil), ent.reg.Formats...),
				Architectures: append([]string(nil), ent.reg.Architectures...),
				Capabilities:  append([]string(nil), ent.reg.Capabilities...),
				Builtin:       ent.reg.Builtin,
			})
		}
	}
	return out
}
