//go:build windows

package host

func init() { compiledGPUTargets = append(compiledGPUTargets, "directml") }
