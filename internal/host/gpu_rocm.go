//go:build rocm

package host

func init() { compiledGPUTargets = append(compiledGPUTargets, "rocm") }
