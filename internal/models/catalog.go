// Package models resolves model names to descriptors from the models directory.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"llmnode/internal/common/fsutil"
	"llmnode/internal/engine"
)

// SidecarFile declares a model explicitly inside its own directory.
const SidecarFile = "model.yaml"

// ErrNotFound is returned (wrapped) by Resolve for unknown names.
var ErrNotFound = errors.New("model not found")

// sidecar is the on-disk shape of model.yaml.
type sidecar struct {
	Name          string   `yaml:"name"`
	Runtime       string   `yaml:"runtime"`
	Format        string   `yaml:"format"`
	Architectures []string `yaml:"architectures"`
	Capabilities  []string `yaml:"capabilities"`
	Primary       string   `yaml:"primary"`
}

// Catalog is a snapshot of the models directory. Refresh rescans it.
type Catalog struct {
	dir string

	mu     sync.RWMutex
	byName map[string]engine.ModelDescriptor
	names  []string
}

// LoadDir scans dir. *.gguf files become llama_cpp descriptors named after the
// file (extension included); each subdirectory holding model.yaml contributes
// the descriptor it declares.
func LoadDir(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh rescans the directory and swaps the snapshot.
func (c *Catalog) Refresh() error {
	base, err := fsutil.ExpandHome(c.dir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	byName := make(map[string]engine.ModelDescriptor)
	for _, e := range entries {
		p := filepath.Join(abs, e.Name())
		if e.IsDir() {
			d, ok, err := readSidecar(p)
			if err != nil {
				return err
			}
			if ok {
				byName[d.Name] = d
			}
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			continue
		}
		byName[e.Name()] = ggufDescriptor(e.Name(), p)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	c.mu.Lock()
	c.byName, c.names = byName, names
	c.mu.Unlock()
	return nil
}

func ggufDescriptor(name, path string) engine.ModelDescriptor {
	d := engine.ModelDescriptor{
		Name:         name,
		Runtime:      "llama_cpp",
		Format:       "gguf",
		Capabilities: []string{engine.CapabilityText, engine.CapabilityEmbeddings},
		PrimaryPath:  path,
		ModelDir:     filepath.Dir(path),
	}
	if a := guessArchitecture(name); a != "" {
		d.Architectures = []string{a}
	}
	return d
}

var knownArchitectures = []string{"mistral", "mixtral", "gemma", "qwen2", "qwen", "phi", "llama"}

// guessArchitecture infers the family from a file name such as
// "mistral-7b-instruct.Q4_K_M.gguf". Unknown names yield "".
func guessArchitecture(name string) string {
	lower := strings.ToLower(name)
	for _, a := range knownArchitectures {
		if strings.Contains(lower, a) {
			return a
		}
	}
	return ""
}

func readSidecar(dir string) (engine.ModelDescriptor, bool, error) {
	b, err := os.ReadFile(filepath.Join(dir, SidecarFile))
	if errors.Is(err, os.ErrNotExist) {
		return engine.ModelDescriptor{}, false, nil
	}
	if err != nil {
		return engine.ModelDescriptor{}, false, err
	}
	var s sidecar
	if err := yaml.Unmarshal(b, &s); err != nil {
		return engine.ModelDescriptor{}, false, fmt.Errorf("%s: %w", filepath.Join(dir, SidecarFile), err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(dir)
	}
	if s.Runtime == "" {
		return engine.ModelDescriptor{}, false, fmt.Errorf("%s: runtime is required", filepath.Join(dir, SidecarFile))
	}
	d := engine.ModelDescriptor{
		Name:          s.Name,
		Runtime:       s.Runtime,
		Format:        s.Format,
		Architectures: s.Architectures,
		Capabilities:  s.Capabilities,
		ModelDir:      dir,
	}
	if s.Primary != "" {
		d.PrimaryPath = filepath.Join(dir, s.Primary)
	}
	return d, true, nil
}

// Resolve returns the descriptor for name. The ".gguf" suffix may be omitted.
func (c *Catalog) Resolve(name string) (engine.ModelDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.byName[name]; ok {
		return d, nil
	}
	if d, ok := c.byName[name+".gguf"]; ok {
		return d, nil
	}
	return engine.ModelDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns all descriptors sorted by name.
func (c *Catalog) List() []engine.ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]engine.ModelDescriptor, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}

// Dir returns the configured models directory.
func (c *Catalog) Dir() string { return c.dir }
