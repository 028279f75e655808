// Package library abstracts the platform dynamic-library facility used to load
// engine plugins: open a library, resolve exported symbols, close it.
package library

import (
	"errors"
	"fmt"
	"plugin"
	"sync"
)

// Library is an opened dynamic library.
type Library interface {
	Path() string
	// Lookup resolves an exported symbol by name.
	Lookup(symbol string) (any, error)
}

// Loader opens and closes libraries.
type Loader interface {
	Open(path string) (Library, error)
	Close(lib Library) error
}

// ErrMissingSymbol is returned (wrapped) when a library does not export a symbol.
var ErrMissingSymbol = errors.New("missing symbol")

// PluginLoader loads Go plugins (-buildmode=plugin) through the standard
// plugin package. The Go runtime never unmaps a plugin, so Close only releases
// the host's reference; re-opening the same path yields the same code, and the
// factory produces a fresh engine instance each time.
type PluginLoader struct {
	mu     sync.Mutex
	opened map[string]int
}

// NewPluginLoader returns a Loader backed by the plugin package.
func NewPluginLoader() *PluginLoader {
	return &PluginLoader{opened: make(map[string]int)}
}

type goPlugin struct {
	path   string
	p      *plugin.Plugin
	closed bool
}

func (g *goPlugin) Path() string { return g.path }

func (g *goPlugin) Lookup(symbol string) (any, error) {
	if g.closed {
		return nil, fmt.Errorf("library closed: %s", g.path)
	}
	s, err := g.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSymbol, symbol)
	}
	return s, nil
}

func (l *PluginLoader) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", path, err)
	}
	l.mu.Lock()
	l.opened[path]++
	l.mu.Unlock()
	return &goPlugin{path: path, p: p}, nil
}

func (l *PluginLoader) Close(lib Library) error {
	g, ok := lib.(*goPlugin)
	if !ok {
		return fmt.Errorf("library %s was not opened by this loader", lib.Path())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if l.opened[g.path]--; l.opened[g.path] <= 0 {
		delete(l.opened, g.path)
	}
	return nil
}

// OpenCount reports how many live references the loader holds for path.
func (l *PluginLoader) OpenCount(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened[path]
}
