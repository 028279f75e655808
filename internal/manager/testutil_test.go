package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llmnode/internal/engine"
	"llmnode/internal/engine/enginetest"
	"llmnode/internal/host"
	"llmnode/internal/library"
	"llmnode/internal/manifest"
	"llmnode/internal/registry"
)

// staticModels is an in-memory ModelSource.
type staticModels map[string]engine.ModelDescriptor

func (s staticModels) Resolve(name string) (engine.ModelDescriptor, error) {
	d, ok := s[name]
	if !ok {
		return engine.ModelDescriptor{}, os.ErrNotExist
	}
	return d, nil
}

func (s staticModels) List() []engine.ModelDescriptor {
	out := make([]engine.ModelDescriptor, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	return out
}

func llamaModel(name string) engine.ModelDescriptor {
	return engine.ModelDescriptor{
		Name:          name,
		Runtime:       "llama_cpp",
		Format:        "gguf",
		Architectures: []string{"llama"},
		PrimaryPath:   "/models/" + name,
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newFakeManager registers fake under engineID and serves model "m".
func newFakeManager(t *testing.T, engineID string, fake *enginetest.Fake, mutate func(*ManagerConfig)) (*Manager, *MemoryPublisher) {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(fake, registry.Registration{
		EngineID:      engineID,
		Formats:       []string{"gguf"},
		Architectures: []string{"llama"},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		Registry:     reg,
		Models:       staticModels{"m": llamaModel("m")},
		DefaultModel: "m",
		Publisher:    pub,
		Logger:       zerolog.Nop(),
		MaxWait:      time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewWithConfig(cfg), pub
}

// pluginEnv is a plugin directory served through an in-memory loader.
type pluginEnv struct {
	t      *testing.T
	dir    string
	lib    string
	loader *library.MemoryLoader
	host   *host.Host

	mu      sync.Mutex
	created []*enginetest.Fake
	// configure adjusts the n-th engine created by the factory (0-based).
	configure func(n int, f *enginetest.Fake)
}

func newPluginEnv(t *testing.T, id string) *pluginEnv {
	t.Helper()
	p := &pluginEnv{t: t, dir: t.TempDir(), loader: library.NewMemoryLoader()}
	pdir := filepath.Join(p.dir, id)
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, _ := json.Marshal(map[string]any{
		"engine_id":      id,
		"engine_version": "1.0.0",
		"abi_version":    engine.ABIVersion,
		"runtimes":       []string{"llama_cpp"},
		"formats":        []string{"gguf"},
		"architectures":  []string{"llama", "mistral"},
		"modalities":     []string{"completion"},
		"license":        "MIT",
		"library":        "engine",
	})
	if err := os.WriteFile(filepath.Join(pdir, manifest.FileName), b, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	p.lib = filepath.Join(pdir, "libengine.so")
	p.loader.Register(p.lib, map[string]any{
		engine.FactorySymbol: engine.Factory(p.factory),
		engine.DeleterSymbol: engine.Deleter(enginetest.Deleter),
	})
	p.host = host.New(host.Config{Loader: p.loader, GPUTargets: []string{}, GOOS: "linux", Logger: zerolog.Nop()})
	return p
}

func (p *pluginEnv) factory(*engine.HostContext) engine.Engine {
	f := enginetest.New("llama_cpp", "a", "b")
	p.mu.Lock()
	n := len(p.created)
	p.created = append(p.created, f)
	cfg := p.configure
	p.mu.Unlock()
	if cfg != nil {
		cfg(n, f)
	}
	return f
}

func (p *pluginEnv) fakes() []*enginetest.Fake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*enginetest.Fake(nil), p.created...)
}

// manager builds a Manager over the plugin directory and loads it.
func (p *pluginEnv) manager(mutate func(*ManagerConfig)) (*Manager, *MemoryPublisher) {
	p.t.Helper()
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		Registry:     registry.New(),
		Host:         p.host,
		PluginDir:    p.dir,
		Models:       staticModels{"m": llamaModel("m")},
		DefaultModel: "m",
		Publisher:    pub,
		Logger:       zerolog.Nop(),
		MaxWait:      time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewWithConfig(cfg)
	if _, err := m.LoadEnginePlugins(); err != nil {
		p.t.Fatalf("LoadEnginePlugins: %v", err)
	}
	p.t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
