package models

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDirFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"a.gguf", "b.GGUF", "not-model.txt", "model.bin"} {
		writeFile(t, filepath.Join(dir, f), "")
	}
	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	list := c.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 models, got %d", len(list))
	}
	for _, d := range list {
		if !strings.HasSuffix(strings.ToLower(d.Name), ".gguf") {
			t.Fatalf("name not gguf: %s", d.Name)
		}
		if d.Runtime != "llama_cpp" || d.Format != "gguf" {
			t.Fatalf("unexpected descriptor: %+v", d)
		}
	}
}

func TestLoadDirExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "llmnode-models-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	writeFile(t, filepath.Join(hTmp, "x.gguf"), "")
	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	c, err := LoadDir(tildePath)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if list := c.List(); len(list) != 1 || list[0].Name != "x.gguf" {
		t.Fatalf("unexpected models: %+v", list)
	}
}

func TestResolveByNameAndStem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mistral-7b.Q4_K_M.gguf"), "")
	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := c.Resolve("mistral-7b.Q4_K_M")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(d.Architectures) != 1 || d.Architectures[0] != "mistral" {
		t.Fatalf("architecture not inferred: %+v", d)
	}
	if d.PrimaryPath != filepath.Join(dir, "mistral-7b.Q4_K_M.gguf") {
		t.Fatalf("primary path = %s", d.PrimaryPath)
	}
	if _, err := c.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSidecarDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "qwen", SidecarFile), `
name: qwen-chat
runtime: onnx
format: safetensors
architectures: [qwen2]
capabilities: [text]
primary: model.safetensors
`)
	writeFile(t, filepath.Join(dir, "plain", "README"), "no sidecar")
	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := c.Resolve("qwen-chat")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Runtime != "onnx" || d.Format != "safetensors" || d.Architectures[0] != "qwen2" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.PrimaryPath != filepath.Join(dir, "qwen", "model.safetensors") {
		t.Fatalf("primary path = %s", d.PrimaryPath)
	}
	if len(c.List()) != 1 {
		t.Fatalf("directories without sidecar must be ignored")
	}
}

func TestSidecarRequiresRuntime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "m", SidecarFile), "name: m\n")
	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "runtime is required") {
		t.Fatalf("expected runtime error, got %v", err)
	}
}

func TestRefreshPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	writeFile(t, filepath.Join(dir, "gemma-2b.gguf"), "")
	if err := c.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := c.Resolve("gemma-2b.gguf"); err != nil {
		t.Fatalf("resolve after refresh: %v", err)
	}
	if _, err := LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("missing dir must error")
	}
}
