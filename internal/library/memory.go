package library

import (
	"fmt"
	"sync"
)

// MemoryLoader serves symbol tables registered in-process. It counts opens and
// closes per path so tests can assert handle lifetimes.
type MemoryLoader struct {
	mu      sync.Mutex
	libs    map[string]map[string]any
	opens   map[string]int
	closes  map[string]int
	openErr map[string]error
}

// NewMemoryLoader returns an empty MemoryLoader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		libs:    make(map[string]map[string]any),
		opens:   make(map[string]int),
		closes:  make(map[string]int),
		openErr: make(map[string]error),
	}
}

// Register makes path openable with the given exported symbols.
func (l *MemoryLoader) Register(path string, symbols map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(map[string]any, len(symbols))
	for k, v := range symbols {
		cp[k] = v
	}
	l.libs[path] = cp
	delete(l.openErr, path)
}

// FailOpen makes the next opens of path fail with err.
func (l *MemoryLoader) FailOpen(path string, err error) {
	l.mu.Lock()
	l.openErr[path] = err
	l.mu.Unlock()
}

type memLibrary struct {
	path    string
	symbols map[string]any
	closed  bool
}

func (m *memLibrary) Path() string { return m.path }

func (m *memLibrary) Lookup(symbol string) (any, error) {
	s, ok := m.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSymbol, symbol)
	}
	return s, nil
}

func (l *MemoryLoader) Open(path string) (Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openErr[path]; err != nil {
		return nil, err
	}
	syms, ok := l.libs[path]
	if !ok {
		return nil, fmt.Errorf("failed to load library: %s", path)
	}
	l.opens[path]++
	return &memLibrary{path: path, symbols: syms}, nil
}

func (l *MemoryLoader) Close(lib Library) error {
	m, ok := lib.(*memLibrary)
	if !ok {
		return fmt.Errorf("library %s was not opened by this loader", lib.Path())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.closed {
		return fmt.Errorf("library closed twice: %s", m.path)
	}
	m.closed = true
	l.closes[m.path]++
	return nil
}

// Opens reports how many times path was opened.
func (l *MemoryLoader) Opens(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens[path]
}

// Closes reports how many times a library for path was closed.
func (l *MemoryLoader) Closes(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes[path]
}

// Live reports opens minus closes for path.
func (l *MemoryLoader) Live(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens[path] - l.closes[path]
}
