package manager

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"llmnode/internal/engine"
	"llmnode/pkg/types"
)

// approxTokens estimates a prompt's token count at four bytes per token.
func approxTokens(s string) int { return (len(s) + 3) / 4 }

func toEngineMessages(in []types.ChatMessage) []engine.ChatMessage {
	out := make([]engine.ChatMessage, len(in))
	for i, msg := range in {
		out[i] = engine.ChatMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

func promptText(msgs []engine.ChatMessage) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(msg.Content)
	}
	return b.String()
}

// inferParams maps request sampling onto engine params, bounding max tokens by
// the context window left after the prompt.
func inferParams(inst *Instance, s types.Sampling, prompt string, meter *tokenMeter) (engine.InferParams, error) {
	maxTokens := engine.EffectiveMaxTokens(s.MaxTokens, approxTokens(prompt), inst.engine.ModelMaxContext(inst.desc))
	if maxTokens <= 0 {
		return engine.InferParams{}, invalidRequestError{msg: "prompt exceeds the model context window"}
	}
	return engine.InferParams{
		MaxTokens:     maxTokens,
		Temperature:   float32(s.Temperature),
		TopP:          float32(s.TopP),
		TopK:          s.TopK,
		RepeatPenalty: float32(s.RepeatPenalty),
		Seed:          int(s.Seed),
		Stop:          s.Stop,
		OnToken:       meter.onToken,
	}, nil
}

type generateFunc func(inst *Instance, params engine.InferParams, cbErr *error) (string, error)

// generate runs one text generation through the full request path: request
// slot, instance ensure, queue admission, watchdog and token metrics.
func (m *Manager) generate(ctx context.Context, modelID, call, prompt string, s types.Sampling, fn generateFunc) (types.CompletionResponse, error) {
	done := m.beginRequest()
	defer done()
	inst, err := m.ensure(ctx, modelID, engine.CapabilityText)
	if err != nil {
		return types.CompletionResponse{}, err
	}
	release, err := m.beginGeneration(ctx, inst)
	if err != nil {
		return types.CompletionResponse{}, err
	}
	defer release()

	meter := newTokenMeter(m.now)
	params, err := inferParams(inst, s, prompt, meter)
	if err != nil {
		return types.CompletionResponse{}, err
	}
	var (
		out   string
		cbErr error
	)
	err = m.callEngine(ctx, inst, call, &cbErr, func() error {
		var e error
		out, e = fn(inst, params, &cbErr)
		return e
	})
	if err != nil {
		return types.CompletionResponse{}, err
	}
	tm := meter.finish(inst.ID, inst.EngineID)
	m.recordTokens(tm)
	return types.CompletionResponse{
		Model:    inst.ID,
		EngineID: inst.EngineID,
		Content:  out,
		Usage:    types.Usage{CompletionTokens: tm.Tokens},
		Metrics: types.GenerationMetrics{
			TTFTMs:          float64(tm.TTFT) / float64(time.Millisecond),
			TokensPerSecond: tm.TokensPerSecond,
			DurationMs:      float64(tm.Duration) / float64(time.Millisecond),
		},
	}, nil
}

// GenerateChat runs a non-streaming chat completion.
func (m *Manager) GenerateChat(ctx context.Context, req types.ChatRequest) (types.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return types.CompletionResponse{}, invalidRequestError{msg: "messages are required"}
	}
	msgs := toEngineMessages(req.Messages)
	return m.generate(ctx, req.Model, "generate_chat", promptText(msgs), req.Sampling,
		func(inst *Instance, p engine.InferParams, _ *error) (string, error) {
			return inst.engine.GenerateChat(ctx, msgs, inst.desc, p)
		})
}

// GenerateCompletion runs a non-streaming prompt completion.
func (m *Manager) GenerateCompletion(ctx context.Context, req types.InferRequest) (types.CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.CompletionResponse{}, invalidRequestError{msg: "prompt is required"}
	}
	return m.generate(ctx, req.Model, "generate_completion", req.Prompt, req.Sampling,
		func(inst *Instance, p engine.InferParams, _ *error) (string, error) {
			return inst.engine.GenerateCompletion(ctx, req.Prompt, inst.desc, p)
		})
}

// GenerateChatStream runs a chat completion and calls onToken per piece. An
// error from onToken stops generation and is returned without being treated
// as an engine fault.
func (m *Manager) GenerateChatStream(ctx context.Context, req types.ChatRequest, onToken func(string) error) (types.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return types.CompletionResponse{}, invalidRequestError{msg: "messages are required"}
	}
	msgs := toEngineMessages(req.Messages)
	return m.generate(ctx, req.Model, "generate_chat_stream", promptText(msgs), req.Sampling,
		func(inst *Instance, p engine.InferParams, cbErr *error) (string, error) {
			pieces, err := inst.engine.GenerateChatStream(ctx, msgs, inst.desc, p, trackCallback(cbErr, onToken))
			return strings.Join(pieces, ""), err
		})
}

// GenerateEmbeddings embeds every input with the engine serving embeddings for
// the model.
func (m *Manager) GenerateEmbeddings(ctx context.Context, req types.EmbeddingsRequest) (types.EmbeddingsResponse, error) {
	if len(req.Input) == 0 {
		return types.EmbeddingsResponse{}, invalidRequestError{msg: "input is required"}
	}
	done := m.beginRequest()
	defer done()
	inst, err := m.ensure(ctx, req.Model, engine.CapabilityEmbeddings)
	if err != nil {
		return types.EmbeddingsResponse{}, err
	}
	release, err := m.beginGeneration(ctx, inst)
	if err != nil {
		return types.EmbeddingsResponse{}, err
	}
	defer release()
	var out [][]float32
	err = m.callEngine(ctx, inst, "generate_embeddings", nil, func() error {
		var e error
		out, e = inst.engine.GenerateEmbeddings(ctx, req.Input, inst.desc)
		return e
	})
	if err != nil {
		return types.EmbeddingsResponse{}, err
	}
	return types.EmbeddingsResponse{Model: inst.ID, EngineID: inst.EngineID, Data: out}, nil
}

// Infer streams a generation as NDJSON: one {"token": ...} line per piece and
// a final {"done": true, ...} line. A prompt without messages is sent as a
// single user turn.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flusher func()) error {
	msgs := req.Messages
	if len(msgs) == 0 {
		if strings.TrimSpace(req.Prompt) == "" {
			return invalidRequestError{msg: "prompt or messages are required"}
		}
		msgs = []types.ChatMessage{{Role: "user", Content: req.Prompt}}
	}
	onTok := func(tok string) error {
		if _, err := w.Write(tokenLineJSON(tok)); err != nil {
			return err
		}
		if flusher != nil {
			flusher()
		}
		return nil
	}
	resp, err := m.GenerateChatStream(ctx, types.ChatRequest{Model: req.Model, Messages: msgs, Sampling: req.Sampling}, onTok)
	if err != nil {
		return err
	}
	end := map[string]any{
		"done":      true,
		"model":     resp.Model,
		"engine_id": resp.EngineID,
		"content":   resp.Content,
		"usage":     resp.Usage,
		"metrics":   resp.Metrics,
	}
	jb, _ := json.Marshal(end)
	if _, err := w.Write(append(jb, '\n')); err != nil {
		return err
	}
	if flusher != nil {
		flusher()
	}
	return nil
}

// tokenLineJSON formats a token NDJSON line using json.Marshal for correctness.
func tokenLineJSON(tok string) []byte {
	type tokenMsg struct {
		Token string `json:"token"`
	}
	b, _ := json.Marshal(tokenMsg{Token: tok})
	return append(b, '\n')
}
