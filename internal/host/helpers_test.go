package host

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"llmnode/internal/engine"
	"llmnode/internal/engine/enginetest"
	"llmnode/internal/library"
	"llmnode/internal/manifest"
	"llmnode/internal/registry"
)

type fixture struct {
	t      *testing.T
	root   string
	loader *library.MemoryLoader
	host   *Host
	reg    *registry.Registry

	mu      sync.Mutex
	created map[string][]*enginetest.Fake
}

func newFixture(t *testing.T, gpu ...string) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		root:    t.TempDir(),
		loader:  library.NewMemoryLoader(),
		reg:     registry.New(),
		created: make(map[string][]*enginetest.Fake),
	}
	if gpu == nil {
		gpu = []string{}
	}
	f.host = New(Config{Loader: f.loader, GPUTargets: gpu, GOOS: "linux", Logger: zerolog.Nop()})
	t.Cleanup(f.host.Close)
	return f
}

func manifestFields(id string) map[string]any {
	return map[string]any{
		"engine_id":      id,
		"engine_version": "1.0.0",
		"abi_version":    engine.ABIVersion,
		"runtimes":       []string{"llama_cpp"},
		"formats":        []string{"gguf"},
		"architectures":  []string{"llama", "mistral"},
		"modalities":     []string{"completion"},
		"license":        "MIT",
		"library":        "engine",
	}
}

// writePlugin writes dir/<name>/manifest.json and returns the library path the
// host will open for it.
func (f *fixture) writePlugin(name string, fields map[string]any) string {
	f.t.Helper()
	dir := filepath.Join(f.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(fields)
	if err != nil {
		f.t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), b, 0o644); err != nil {
		f.t.Fatalf("write manifest: %v", err)
	}
	return filepath.Join(dir, "libengine.so")
}

// factory returns a plugin factory producing fakes for runtime and recording
// them under lib.
func (f *fixture) factory(lib, runtime string) engine.Factory {
	return func(*engine.HostContext) engine.Engine {
		e := enginetest.New(runtime, "hi")
		f.mu.Lock()
		f.created[lib] = append(f.created[lib], e)
		f.mu.Unlock()
		return e
	}
}

// plugin writes a manifest and registers a matching in-memory library.
func (f *fixture) plugin(name, id string) string {
	f.t.Helper()
	lib := f.writePlugin(name, manifestFields(id))
	f.loader.Register(lib, map[string]any{
		engine.FactorySymbol: f.factory(lib, "llama_cpp"),
		engine.DeleterSymbol: engine.Deleter(enginetest.Deleter),
	})
	return lib
}

func (f *fixture) fakes(lib string) []*enginetest.Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*enginetest.Fake(nil), f.created[lib]...)
}

func hostCtx() *engine.HostContext {
	return &engine.HostContext{ABIVersion: engine.ABIVersion, ModelsDir: "/models"}
}
