package host

// compiledGPUTargets is filled by build-tagged files for the backends this
// binary was built with.
var compiledGPUTargets []string

// CompiledGPUTargets returns the GPU backends compiled into this binary. A
// CPU-only build returns an empty list, so only backend-agnostic plugins load.
func CompiledGPUTargets() []string {
	return append([]string{}, compiledGPUTargets...)
}
