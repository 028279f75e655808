package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"llmnode/internal/engine"
	"llmnode/internal/engine/enginetest"
	"llmnode/internal/host"
	"llmnode/internal/httpapi"
	"llmnode/internal/library"
	"llmnode/internal/manager"
	"llmnode/internal/manifest"
	"llmnode/internal/models"
	"llmnode/internal/registry"
)

const pluginID = "llama_cpp_test"

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs (filenames).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// pluginDir writes one plugin manifest and serves its library from an
// in-memory loader. Each factory call builds a fresh fake from makeEngine.
type pluginDir struct {
	dir    string
	lib    string
	loader *library.MemoryLoader

	mu         sync.Mutex
	makeEngine func() *enginetest.Fake
	created    []*enginetest.Fake
}

func newPluginDir(t *testing.T, makeEngine func() *enginetest.Fake) *pluginDir {
	t.Helper()
	p := &pluginDir{dir: t.TempDir(), loader: library.NewMemoryLoader(), makeEngine: makeEngine}
	pdir := filepath.Join(p.dir, pluginID)
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, _ := json.Marshal(map[string]any{
		"engine_id":      pluginID,
		"engine_version": "1.0.0",
		"abi_version":    engine.ABIVersion,
		"runtimes":       []string{"llama_cpp"},
		"formats":        []string{"gguf"},
		"architectures":  []string{"llama", "mistral"},
		"modalities":     []string{"completion", "embeddings"},
		"license":        "MIT",
		"library":        "engine",
	})
	if err := os.WriteFile(filepath.Join(pdir, manifest.FileName), b, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	p.lib = manifest.ResolveLibraryPath(pdir, "engine", "linux")
	p.loader.Register(p.lib, map[string]any{
		engine.FactorySymbol: engine.Factory(p.factory),
		engine.DeleterSymbol: engine.Deleter(enginetest.Deleter),
	})
	return p
}

func (p *pluginDir) factory(*engine.HostContext) engine.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.makeEngine()
	p.created = append(p.created, f)
	return f
}

func (p *pluginDir) setEngine(fn func() *enginetest.Fake) {
	p.mu.Lock()
	p.makeEngine = fn
	p.mu.Unlock()
}

func (p *pluginDir) engines() []*enginetest.Fake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*enginetest.Fake(nil), p.created...)
}

// newNode wires models dir, plugin dir, host, manager and HTTP routes the way
// the serve command does, then starts an httptest server.
func newNode(t *testing.T, modelsDir string, plugins *pluginDir, cfg manager.ManagerConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	catalog, err := models.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("load models: %v", err)
	}
	cfg.Registry = registry.New()
	cfg.Models = catalog
	cfg.Logger = zerolog.Nop()
	if plugins != nil {
		cfg.PluginDir = plugins.dir
		cfg.Host = host.New(host.Config{Loader: plugins.loader, GPUTargets: []string{}, GOOS: "linux", Logger: zerolog.Nop()})
	}
	mgr := manager.NewWithConfig(cfg)
	if _, err := mgr.LoadEnginePlugins(); err != nil {
		t.Fatalf("load plugins: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
