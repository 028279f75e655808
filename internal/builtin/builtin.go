// Package builtin provides the statically linked default engine. It serves
// llama_cpp models when the binary is built with the 'llama' tag and stays
// unregistered otherwise, so plugin engines are the only option.
package builtin

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"llmnode/internal/engine"
	"llmnode/internal/registry"
)

const (
	EngineID = "builtin_llama_cpp"
	Runtime  = "llama_cpp"
)

// Options configures the built-in engine.
type Options struct {
	// ContextSize is the llama context window; 0 selects 4096.
	ContextSize int
	Threads     int
	// GPULayers offloads that many layers to the GPU when supported.
	GPULayers int
	Logger    zerolog.Logger
}

const defaultContextSize = 4096

func (o Options) contextSize() int {
	if o.ContextSize > 0 {
		return o.ContextSize
	}
	return defaultContextSize
}

// Registration describes the built-in engine to the registry.
func Registration() registry.Registration {
	return registry.Registration{
		EngineID:      EngineID,
		EngineVersion: "builtin",
		Formats:       []string{"gguf"},
		Architectures: []string{"llama", "mistral", "gemma", "phi"},
		Capabilities:  []string{engine.CapabilityText, engine.CapabilityEmbeddings},
		Builtin:       true,
	}
}

// Register adds the built-in engine to reg when this build carries it. It
// reports whether an engine was registered.
func Register(reg *registry.Registry, opts Options) (bool, error) {
	if !Available() {
		opts.Logger.Info().Msg("built-in llama engine not compiled in; relying on plugins")
		return false, nil
	}
	if err := reg.Register(New(opts), Registration()); err != nil {
		return false, err
	}
	opts.Logger.Info().Str("engine_id", EngineID).Int("ctx", opts.contextSize()).Msg("built-in engine registered")
	return true, nil
}

// ChatMLPrompt renders messages in ChatML and leaves an open assistant turn.
func ChatMLPrompt(msgs []engine.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "user"
		}
		b.WriteString("<|im_start|>")
		b.WriteString(role)
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// chatStop ends generation at the close of the assistant turn.
var chatStop = []string{"<|im_end|>"}

// EstimateVRAMBytes approximates device memory for a model file as its size
// plus a tenth for the KV cache and scratch buffers. Unknown files report 0.
func EstimateVRAMBytes(path string) uint64 {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return 0
	}
	size := uint64(fi.Size())
	return size + size/10
}
