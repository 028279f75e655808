package registry

import (
	"reflect"
	"strings"

	"llmnode/internal/engine"
)

// Resolve picks the engine that should serve desc. An empty capability skips
// the capability filter.
//
// Candidates are narrowed by runtime, format, architecture and capability, in
// that order; the first filter that empties the set decides the error kind.
// Among survivors an externally loaded engine beats a built-in one, then
// registration order decides.
func (r *Registry) Resolve(desc engine.ModelDescriptor, capability string) (Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.byRuntime[desc.Runtime]
	if len(candidates) == 0 {
		return Match{}, noEngineError{runtime: desc.Runtime}
	}

	candidates = filter(candidates, func(e *entry) bool { return supportsFormat(e, desc.Format) })
	if len(candidates) == 0 {
		return Match{}, formatError{runtime: desc.Runtime, format: desc.Format}
	}

	candidates = filter(candidates, func(e *entry) bool { return supportsAnyArchitecture(e, desc.Architectures) })
	if len(candidates) == 0 {
		return Match{}, architectureError{runtime: desc.Runtime, architectures: desc.Architectures}
	}

	if capability != "" {
		candidates = filter(candidates, func(e *entry) bool { return supportsCapability(e, capability) })
		if len(candidates) == 0 {
			return Match{}, capabilityError{runtime: desc.Runtime, capability: capability}
		}
	}

	best := pick(candidates)
	return Match{Engine: best.engine, EngineID: best.reg.EngineID, Builtin: best.reg.Builtin}, nil
}

// ResolveRuntime returns the preferred engine for runtime, ignoring model
// metadata.
func (r *Registry) ResolveRuntime(runtime string) (Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := r.byRuntime[runtime]
	if len(candidates) == 0 {
		return Match{}, noEngineError{runtime: runtime}
	}
	best := pick(candidates)
	return Match{Engine: best.engine, EngineID: best.reg.EngineID, Builtin: best.reg.Builtin}, nil
}

// SupportsArchitecture reports whether any engine for runtime accepts one of
// archs. An empty archs always matches when the runtime has an engine.
func (r *Registry) SupportsArchitecture(runtime string, archs []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byRuntime[runtime] {
		if supportsAnyArchitecture(e, archs) {
			return true
		}
	}
	return false
}

// engineIDFor returns the id an engine instance is registered under, or "".
func (r *Registry) engineIDFor(e engine.Engine) string {
	if e == nil || !reflect.TypeOf(e).Comparable() {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, ent := range r.byID {
		if reflect.TypeOf(ent.engine).Comparable() && ent.engine == e {
			return id
		}
	}
	return ""
}

func filter(in []*entry, keep func(*entry) bool) []*entry {
	var out []*entry
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// pick applies the tie-break; in is never empty.
func pick(in []*entry) *entry {
	for _, e := range in {
		if !e.reg.Builtin {
			return e
		}
	}
	return in[0]
}

func supportsFormat(e *entry, format string) bool {
	if format == "" || len(e.reg.Formats) == 0 {
		return true
	}
	return containsFold(e.reg.Formats, format)
}

func supportsAnyArchitecture(e *entry, archs []string) bool {
	if len(archs) == 0 || len(e.reg.Architectures) == 0 {
		return true
	}
	for _, a := range archs {
		if containsFold(e.reg.Architectures, a) {
			return true
		}
	}
	return false
}

func supportsCapability(e *entry, capability string) bool {
	if len(e.reg.Capabilities) > 0 {
		return containsFold(e.reg.Capabilities, capability)
	}
	switch capability {
	case engine.CapabilityText:
		return e.engine.SupportsTextGeneration()
	case engine.CapabilityEmbeddings:
		return e.engine.SupportsEmbeddings()
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
