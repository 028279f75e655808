package types

// Model represents a model the node can serve.
type Model struct {
	// Stable identifier for the model.
	// example: mistral-7b-instruct.Q4_K_M.gguf
	ID string `json:"id" example:"mistral-7b-instruct.Q4_K_M.gguf"`
	// Absolute path to the primary model file, when known.
	// example: /home/user/models/mistral-7b-instruct.Q4_K_M.gguf
	Path string `json:"path,omitempty" example:"/home/user/models/mistral-7b-instruct.Q4_K_M.gguf"`
	// Runtime required to serve the model.
	// example: llama_cpp
	Runtime string `json:"runtime" example:"llama_cpp"`
	// Model file format.
	// example: gguf
	Format string `json:"format,omitempty" example:"gguf"`
	// Model architectures (families).
	// example: ["mistral"]
	Architectures []string `json:"architectures,omitempty"`
	// Capabilities the model offers (text, embeddings).
	// example: ["text","embeddings"]
	Capabilities []string `json:"capabilities,omitempty"`
}

// EngineInfo describes a registered engine.
type EngineInfo struct {
	// example: llama_cpp_cuda
	EngineID string `json:"engine_id" example:"llama_cpp_cuda"`
	// example: 1.2.0
	EngineVersion string `json:"engine_version" example:"1.2.0"`
	// example: llama_cpp
	Runtime       string   `json:"runtime" example:"llama_cpp"`
	Formats       []string `json:"formats,omitempty"`
	Architectures []string `json:"architectures,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	// True for statically linked default engines.
	Builtin bool `json:"builtin"`
	// Library path for plugin engines.
	Library string `json:"library,omitempty"`
}
