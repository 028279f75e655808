//go:build darwin && metal

package host

func init() { compiledGPUTargets = append(compiledGPUTargets, "metal") }
