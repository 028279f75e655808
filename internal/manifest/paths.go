package manifest

import (
	"path/filepath"
	"strings"
)

// PlatformLibraryName applies the native shared-library naming convention of
// goos to a bare library name.
func PlatformLibraryName(base, goos string) string {
	if goos == "windows" {
		return base + ".dll"
	}
	if !strings.HasPrefix(base, "lib") {
		base = "lib" + base
	}
	if goos == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

// ResolveLibraryPath resolves a manifest's library field relative to the
// manifest directory, appending the platform convention when the name has no
// extension.
func ResolveLibraryPath(manifestDir, library, goos string) string {
	p := library
	if !filepath.IsAbs(p) {
		p = filepath.Join(manifestDir, p)
	}
	if filepath.Ext(p) == "" {
		p = filepath.Join(filepath.Dir(p), PlatformLibraryName(filepath.Base(p), goos))
	}
	return p
}

// GPUTargetsCompatible reports whether a plugin declaring declared can run on a
// host compiled for supported. An empty declaration is backend-agnostic.
func GPUTargetsCompatible(declared, supported []string) bool {
	if len(declared) == 0 {
		return true
	}
	for _, d := range declared {
		for _, s := range supported {
			if strings.EqualFold(d, s) {
				return true
			}
		}
	}
	return false
}
