// Package engine defines the boundary between the node and its inference
// backends: the capability interface every engine implements, the host context
// handed to plugin factories, and the names of the symbols a plugin library
// must export.
//
// A plugin library exports exactly two entry points:
//
//	var CreateEngine engine.Factory  // or func(*engine.HostContext) engine.Engine
//	var DestroyEngine engine.Deleter // or func(engine.Engine)
//
// The host never calls into a library whose manifest declares an ABI version
// other than ABIVersion.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ABIVersion is the plugin contract version compiled into this host.
const ABIVersion = 1

// Exported symbol names looked up in every plugin library.
const (
	FactorySymbol = "CreateEngine"
	DeleterSymbol = "DestroyEngine"
)

// Well-known capability names.
const (
	CapabilityText       = "text"
	CapabilityEmbeddings = "embeddings"
)

// HostContext is passed to a plugin factory.
type HostContext struct {
	ABIVersion int
	// ModelsDir is the root directory models are resolved from.
	ModelsDir string
	// Manager is a shared backend-manager handle owned by the host process.
	// Plugins that do not need it ignore it.
	Manager any
	// Logger routes plugin log output into the host log stream.
	Logger zerolog.Logger
}

// Factory creates an engine instance. It returns nil on failure.
type Factory func(*HostContext) Engine

// Deleter destroys an engine instance created by the matching Factory.
type Deleter func(Engine)

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InferParams captures generation parameters passed to an engine.
type InferParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Seed          int
	Stop          []string
	// OnToken, when set, is invoked by the engine once per generated token.
	OnToken func(tokenID uint32, at time.Time)
}

// ModelDescriptor describes a resolved model. Engines never mutate it.
type ModelDescriptor struct {
	Name          string
	Runtime       string
	Format        string
	Architectures []string
	Capabilities  []string
	PrimaryPath   string
	ModelDir      string
}

// Engine is the capability interface implemented by every inference backend.
// Calls are blocking; the caller does not assume an engine is internally
// concurrent.
type Engine interface {
	// Runtime identifies the runtime this engine implements (e.g. "llama_cpp").
	Runtime() string
	SupportsTextGeneration() bool
	SupportsEmbeddings() bool

	LoadModel(ctx context.Context, desc ModelDescriptor) error
	GenerateChat(ctx context.Context, messages []ChatMessage, desc ModelDescriptor, params InferParams) (string, error)
	GenerateCompletion(ctx context.Context, prompt string, desc ModelDescriptor, params InferParams) (string, error)
	// GenerateChatStream calls onToken for each token piece and returns all pieces.
	GenerateChatStream(ctx context.Context, messages []ChatMessage, desc ModelDescriptor, params InferParams, onToken func(string) error) ([]string, error)
	GenerateEmbeddings(ctx context.Context, inputs []string, desc ModelDescriptor) ([][]float32, error)

	// ModelMaxContext reports the context window for desc, 0 when unknown.
	ModelMaxContext(desc ModelDescriptor) int
	// ModelVRAMBytes reports the device memory desc needs, 0 when unknown.
	ModelVRAMBytes(desc ModelDescriptor) uint64
}
