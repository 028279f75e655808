//go:build !llama

package builtin

import (
	"context"

	"llmnode/internal/engine"
)

// Available reports whether this binary links the llama runtime.
func Available() bool { return false }

var errNotBuilt = notBuiltError{}

type notBuiltError struct{}

func (notBuiltError) Error() string { return "llama support not built (missing 'llama' build tag)" }

// Engine is a placeholder that refuses every call. Register never adds it.
type Engine struct{ opts Options }

// New returns the stub engine.
func New(opts Options) *Engine { return &Engine{opts: opts} }

func (e *Engine) Runtime() string              { return Runtime }
func (e *Engine) SupportsTextGeneration() bool { return false }
func (e *Engine) SupportsEmbeddings() bool     { return false }

func (e *Engine) LoadModel(context.Context, engine.ModelDescriptor) error { return errNotBuilt }

func (e *Engine) GenerateChat(context.Context, []engine.ChatMessage, engine.ModelDescriptor, engine.InferParams) (string, error) {
	return "", errNotBuilt
}

func (e *Engine) GenerateCompletion(context.Context, string, engine.ModelDescriptor, engine.InferParams) (string, error) {
	return "", errNotBuilt
}

func (e *Engine) GenerateChatStream(context.Context, []engine.ChatMessage, engine.ModelDescriptor, engine.InferParams, func(string) error) ([]string, error) {
	return nil, errNotBuilt
}

func (e *Engine) GenerateEmbeddings(context.Context, []string, engine.ModelDescriptor) ([][]float32, error) {
	return nil, errNotBuilt
}

func (e *Engine) ModelMaxContext(engine.ModelDescriptor) int { return e.opts.contextSize() }

func (e *Engine) ModelVRAMBytes(desc engine.ModelDescriptor) uint64 {
	return EstimateVRAMBytes(desc.PrimaryPath)
}

// Close is a no-op in the stub.
func (e *Engine) Close() {}
