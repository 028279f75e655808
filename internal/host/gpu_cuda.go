//go:build cuda

package host

func init() { compiledGPUTargets = append(compiledGPUTargets, "cuda") }
