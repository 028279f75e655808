//go:build llama

package builtin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"llmnode/internal/engine"
)

// Available reports whether this binary links the llama runtime.
func Available() bool { return true }

// Engine serves gguf models in-process through go-llama.cpp. Loaded models
// are keyed by primary path; calls into one model are serialized.
type Engine struct {
	opts Options

	mu     sync.Mutex
	models map[string]*llamaModel
}

type llamaModel struct {
	mu    sync.Mutex
	model *llama.LLama
}

// New returns an engine with no models loaded.
func New(opts Options) *Engine {
	return &Engine{opts: opts, models: make(map[string]*llamaModel)}
}

func (e *Engine) Runtime() string              { return Runtime }
func (e *Engine) SupportsTextGeneration() bool { return true }
func (e *Engine) SupportsEmbeddings() bool     { return true }

func (e *Engine) LoadModel(ctx context.Context, desc engine.ModelDescriptor) error {
	path := strings.TrimSpace(desc.PrimaryPath)
	if path == "" {
		return errors.New("model path is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.models[path]; ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mo := []llama.ModelOption{
		llama.SetContext(e.opts.contextSize()),
		llama.EnableEmbeddings,
	}
	if e.opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.opts.GPULayers))
	}
	start := time.Now()
	m, err := llama.New(path, mo...)
	if err != nil {
		return err
	}
	e.models[path] = &llamaModel{model: m}
	e.opts.Logger.Info().Str("model", desc.Name).Dur("dur", time.Since(start)).Msg("llama model loaded")
	return nil
}

func (e *Engine) lookup(desc engine.ModelDescriptor) (*llamaModel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lm := e.models[desc.PrimaryPath]
	if lm == nil {
		return nil, errors.New("llama model not loaded: " + desc.Name)
	}
	return lm, nil
}

// predict runs one prediction, bridging tokens to onToken and params.OnToken
// and stopping on cancellation or a callback error.
func (e *Engine) predict(ctx context.Context, desc engine.ModelDescriptor, prompt string, params engine.InferParams, stop []string, onToken func(string) error) ([]string, error) {
	lm, err := e.lookup(desc)
	if err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var (
		pieces []string
		cbErr  error
		n      uint32
	)
	lm.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if params.OnToken != nil {
			params.OnToken(n, time.Now())
		}
		n++
		pieces = append(pieces, tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})
	defer lm.model.SetTokenCallback(nil)

	po := predictOptions(params, e.opts.Threads, stop)
	if _, err := lm.model.Predict(prompt, po...); err != nil {
		if ctx.Err() != nil {
			return pieces, ctx.Err()
		}
		return pieces, err
	}
	if cbErr != nil {
		return pieces, cbErr
	}
	if err := ctx.Err(); err != nil {
		return pieces, err
	}
	return pieces, nil
}

func (e *Engine) GenerateChat(ctx context.Context, msgs []engine.ChatMessage, desc engine.ModelDescriptor, params engine.InferParams) (string, error) {
	pieces, err := e.predict(ctx, desc, ChatMLPrompt(msgs), params, chatStop, nil)
	return strings.Join(pieces, ""), err
}

func (e *Engine) GenerateCompletion(ctx context.Context, prompt string, desc engine.ModelDescriptor, params engine.InferParams) (string, error) {
	pieces, err := e.predict(ctx, desc, prompt, params, nil, nil)
	return strings.Join(pieces, ""), err
}

func (e *Engine) GenerateChatStream(ctx context.Context, msgs []engine.ChatMessage, desc engine.ModelDescriptor, params engine.InferParams, onToken func(string) error) ([]string, error) {
	return e.predict(ctx, desc, ChatMLPrompt(msgs), params, chatStop, onToken)
}

func (e *Engine) GenerateEmbeddings(ctx context.Context, inputs []string, desc engine.ModelDescriptor) ([][]float32, error) {
	lm, err := e.lookup(desc)
	if err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := lm.model.Embeddings(in, llama.SetThreads(max(1, e.opts.Threads)))
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *Engine) ModelMaxContext(engine.ModelDescriptor) int { return e.opts.contextSize() }

func (e *Engine) ModelVRAMBytes(desc engine.ModelDescriptor) uint64 {
	return EstimateVRAMBytes(desc.PrimaryPath)
}

// Close frees every loaded model.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for path, lm := range e.models {
		lm.mu.Lock()
		lm.model.Free()
		lm.mu.Unlock()
		delete(e.models, path)
	}
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts engine params into go-llama.cpp options.
func predictOptions(params engine.InferParams, threads int, stop []string) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if words := append(append([]string(nil), stop...), params.Stop...); len(words) > 0 {
		po = append(po, llama.SetStopWords(words...))
	}
	return po
}
