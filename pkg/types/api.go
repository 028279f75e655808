package types

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// Sampling holds generation parameters shared by completion and chat requests.
type Sampling struct {
	// Maximum number of new tokens to generate. Bounded by the model context.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 lets the engine choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Repeat penalty.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
}

// InferRequest is a completion request. When Messages is set the request is
// served as chat.
type InferRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: mistral-7b-instruct.Q4_K_M.gguf
	Model string `json:"model,omitempty" example:"mistral-7b-instruct.Q4_K_M.gguf"`
	// Prompt text to complete.
	// example: Write a haiku about the ocean.
	Prompt   string        `json:"prompt,omitempty" example:"Write a haiku about the ocean."`
	Messages []ChatMessage `json:"messages,omitempty"`
	// Stream results as NDJSON lines.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	Sampling
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	// example: mistral-7b-instruct.Q4_K_M.gguf
	Model    string        `json:"model,omitempty" example:"mistral-7b-instruct.Q4_K_M.gguf"`
	Messages []ChatMessage `json:"messages"`
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
	Sampling
}

// Usage contains token accounting.
type Usage struct {
	// example: 42
	CompletionTokens int `json:"completion_tokens" example:"42"`
}

// GenerationMetrics reports token timing for one call.
type GenerationMetrics struct {
	// Time to first token in milliseconds.
	// example: 120.5
	TTFTMs float64 `json:"ttft_ms" example:"120.5"`
	// example: 35.2
	TokensPerSecond float64 `json:"tokens_per_second" example:"35.2"`
	// example: 1300
	DurationMs float64 `json:"duration_ms" example:"1300"`
}

// CompletionResponse is returned by non-streaming completion and chat calls.
type CompletionResponse struct {
	// example: mistral-7b-instruct.Q4_K_M.gguf
	Model string `json:"model" example:"mistral-7b-instruct.Q4_K_M.gguf"`
	// example: llama_cpp_cuda
	EngineID string `json:"engine_id" example:"llama_cpp_cuda"`
	// Generated text.
	Content string            `json:"content"`
	Usage   Usage             `json:"usage"`
	Metrics GenerationMetrics `json:"metrics"`
}

// EmbeddingsRequest asks for one embedding per input.
type EmbeddingsRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// EmbeddingsResponse carries embeddings in input order.
type EmbeddingsResponse struct {
	Model    string      `json:"model"`
	EngineID string      `json:"engine_id"`
	Data     [][]float32 `json:"data"`
}

// LoadRequest preloads a model for a capability.
type LoadRequest struct {
	// example: mistral-7b-instruct.Q4_K_M.gguf
	Model string `json:"model"`
	// "text" (default) or "embeddings".
	// example: text
	Capability string `json:"capability,omitempty" example:"text"`
	// Load in the background and return an operation id.
	Async bool `json:"async,omitempty"`
}

// LoadResponse acknowledges a load.
type LoadResponse struct {
	Model    string `json:"model"`
	EngineID string `json:"engine_id,omitempty"`
	OpID     string `json:"op_id,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// RestartStatus mirrors the plugin restart bookkeeping.
type RestartStatus struct {
	IntervalSec        int64  `json:"interval_sec"`
	RequestLimit       uint64 `json:"request_limit"`
	LastStagedUnix     int64  `json:"last_staged_unix"`
	RequestsSinceStage uint64 `json:"requests_since_stage"`
	Pending            bool   `json:"pending"`
	Reason             string `json:"reason,omitempty"`
}

// EnginesResponse is returned by GET /engines.
type EnginesResponse struct {
	Engines []EngineInfo `json:"engines"`
	// Engine ids staged and waiting for an idle moment.
	Pending []string      `json:"pending,omitempty"`
	Restart RestartStatus `json:"restart"`
}

// ReloadResponse is returned by POST /engines/reload.
type ReloadResponse struct {
	Staged  []string          `json:"staged,omitempty"`
	Skipped []string          `json:"skipped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
	// Ids swapped in immediately; empty when requests were in flight.
	Applied []string `json:"applied,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// InstanceStatus summarizes a loaded model instance for /status.
type InstanceStatus struct {
	// example: mistral-7b-instruct.Q4_K_M.gguf
	ModelID string `json:"model_id" example:"mistral-7b-instruct.Q4_K_M.gguf"`
	// example: llama_cpp_cuda
	EngineID string `json:"engine_id" example:"llama_cpp_cuda"`
	// Lifecycle state (loading, ready, draining, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Device memory the engine reported for the model, in MB.
	// example: 4200
	EstVRAMMB int `json:"est_vram_mb" example:"4200"`
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// Requests currently inside the orchestrator.
	// example: 2
	ActiveRequests int `json:"active_requests" example:"2"`
	// example: 2
	EnginesRegistered int `json:"engines_registered" example:"2"`
	// example: true
	PendingPlugins bool `json:"pending_plugins" example:"false"`
	// Sum of per-instance estimates in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Last error observed by the manager (if any).
	Error string `json:"error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 1
	EngineFaultsTotal uint64 `json:"engine_faults_total" example:"1"`
	// example: ready
	State string `json:"state" example:"ready"`
	// example: 1
	WarmupsInProgress int `json:"warmups_in_progress" example:"1"`
	// example: 0
	DrainingCount int `json:"draining_count" example:"0"`
}
