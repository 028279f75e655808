// Package enginetest provides a scriptable in-process Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"llmnode/internal/engine"
)

// Fake is a configurable engine.Engine. The zero value serves runtime "fake"
// with no capabilities. Set fields before first use.
type Fake struct {
	RuntimeName string
	Text        bool
	Embeddings  bool
	VRAM        uint64
	MaxContext  int

	// Pieces are emitted as tokens by every generation call.
	Pieces []string
	// Delay is slept before a generation call returns.
	Delay time.Duration
	// Block, when non-nil, holds generation calls until it is closed.
	Block chan struct{}
	// Entered receives once per generation call before it blocks.
	Entered chan struct{}

	Err     error
	LoadErr error
	Panic   any

	mu        sync.Mutex
	calls     int
	loads     []string
	destroyed int
}

// New returns a text+embeddings fake for runtime.
func New(runtime string, pieces ...string) *Fake {
	return &Fake{RuntimeName: runtime, Text: true, Embeddings: true, Pieces: pieces}
}

func (f *Fake) Runtime() string {
	if f.RuntimeName == "" {
		return "fake"
	}
	return f.RuntimeName
}

func (f *Fake) SupportsTextGeneration() bool { return f.Text }
func (f *Fake) SupportsEmbeddings() bool     { return f.Embeddings }

func (f *Fake) LoadModel(_ context.Context, desc engine.ModelDescriptor) error {
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.mu.Lock()
	f.loads = append(f.loads, desc.Name)
	f.mu.Unlock()
	return nil
}

func (f *Fake) run(params engine.InferParams, onPiece func(string) error) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Entered != nil {
		f.Entered <- struct{}{}
	}
	if f.Block != nil {
		<-f.Block
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if f.Panic != nil {
		panic(f.Panic)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]string, 0, len(f.Pieces))
	for i, p := range f.Pieces {
		if params.MaxTokens > 0 && i >= params.MaxTokens {
			break
		}
		if params.OnToken != nil {
			params.OnToken(uint32(i), time.Now())
		}
		if onPiece != nil {
			if err := onPiece(p); err != nil {
				return out, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) GenerateChat(_ context.Context, _ []engine.ChatMessage, _ engine.ModelDescriptor, params engine.InferParams) (string, error) {
	pieces, err := f.run(params, nil)
	return strings.Join(pieces, ""), err
}

func (f *Fake) GenerateCompletion(_ context.Context, _ string, _ engine.ModelDescriptor, params engine.InferParams) (string, error) {
	pieces, err := f.run(params, nil)
	return strings.Join(pieces, ""), err
}

func (f *Fake) GenerateChatStream(_ context.Context, _ []engine.ChatMessage, _ engine.ModelDescriptor, params engine.InferParams, onToken func(string) error) ([]string, error) {
	return f.run(params, onToken)
}

func (f *Fake) GenerateEmbeddings(_ context.Context, inputs []string, _ engine.ModelDescriptor) ([][]float32, error) {
	if !f.Embeddings {
		return nil, errors.New("embeddings not supported")
	}
	if _, err := f.run(engine.InferParams{}, nil); err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = []float32{float32(len(in)), 1}
	}
	return out, nil
}

func (f *Fake) ModelMaxContext(engine.ModelDescriptor) int   { return f.MaxContext }
func (f *Fake) ModelVRAMBytes(engine.ModelDescriptor) uint64 { return f.VRAM }

// Destroy is a Deleter-compatible hook counting destructions.
func (f *Fake) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
}

// Calls reports generation/embedding calls made so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Loads returns the model names passed to LoadModel.
func (f *Fake) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// Destroyed reports how many times Destroy ran.
func (f *Fake) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// Deleter destroys Fake engines and ignores anything else.
func Deleter(e engine.Engine) {
	if f, ok := e.(*Fake); ok {
		f.Destroy()
	}
}
