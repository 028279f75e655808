package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"llmnode/internal/manager"
	"llmnode/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	ListModels() []types.Model
	Engines() types.EnginesResponse
	Status() types.StatusResponse
	Ready() bool
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	GenerateChat(ctx context.Context, req types.ChatRequest) (types.CompletionResponse, error)
	GenerateEmbeddings(ctx context.Context, req types.EmbeddingsRequest) (types.EmbeddingsResponse, error)
	LoadModel(ctx context.Context, modelID, capability string) (manager.ModelInfo, error)
	Switch(ctx context.Context, modelID, capability string) (string, error)
	ReloadEnginePlugins(ctx context.Context) (types.ReloadResponse, error)
}

// serverBaseCtx is a process-level context canceled on shutdown.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context derived from b that is also canceled when a
// is done. The cancel func must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// generationContext joins the request with the server base context and
// applies the generation timeout.
func generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if generationTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, generationTimeout)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

type server struct {
	svc Service
}

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", s.handleModels)
	r.Get("/engines", s.handleEngines)
	r.Post("/engines/reload", s.handleReload)
	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/models/load", s.handleLoad)
		r.Post("/completions", s.handleCompletions)
		r.Post("/chat/completions", s.handleChat)
		r.Post("/embeddings", s.handleEmbeddings)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: corsAllowedMethods,
		AllowedHeaders: corsAllowedHeaders,
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = []string{"Content-Type", "X-Log-Level"}
	}
	return opts
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// oversized bodies also land here; keep the size limit private
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requestLog returns a logger for r, or a disabled one below min.
func requestLog(r *http.Request, min LogLevel) *zerolog.Logger {
	if requestLogLevel(r) < min {
		nop := zerolog.Nop()
		return &nop
	}
	l := zlog.With().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.Str("request_id", rid)
	}
	lg := l.Logger()
	return &lg
}

// finish logs the outcome of a request at info level, and failures at
// error level too.
func finish(r *http.Request, start time.Time, status int, err error) {
	lvl := LevelInfo
	if err != nil && status >= http.StatusInternalServerError {
		lvl = LevelError
	}
	lg := requestLog(r, lvl)
	ev := lg.Info()
	if lvl == LevelError {
		ev = lg.Error()
	}
	ev.Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("request end")
}

// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200 {object} types.ModelsResponse
// @Router       /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

// @Summary      List engines, staged replacements and restart policy state
// @Tags         engines
// @Produce      json
// @Success      200 {object} types.EnginesResponse
// @Router       /engines [get]
func (s *server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Engines())
}

// @Summary      Stage engine plugins again and apply when idle
// @Tags         engines
// @Produce      json
// @Success      200 {object} types.ReloadResponse
// @Failure      503 {object} types.ErrorResponse
// @Router       /engines/reload [post]
func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := s.svc.ReloadEnginePlugins(r.Context())
	if err != nil && len(resp.Staged) == 0 && len(resp.Failed) == 0 {
		finish(r, start, writeError(w, err), err)
		return
	}
	// partial failures are reported in the body
	writeJSON(w, http.StatusOK, resp)
	finish(r, start, http.StatusOK, err)
}

// @Summary      Orchestrator status
// @Tags         status
// @Produce      json
// @Success      200 {object} types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// @Summary      Load a model into its engine
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request body types.LoadRequest true "Load request"
// @Success      200 {object} types.LoadResponse
// @Success      202 {object} types.LoadResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /v1/models/load [post]
func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := time.Now()
	if req.Async {
		op, err := s.svc.Switch(r.Context(), req.Model, req.Capability)
		if err != nil {
			finish(r, start, writeError(w, err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, types.LoadResponse{Model: req.Model, OpID: op})
		finish(r, start, http.StatusAccepted, nil)
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	info, err := s.svc.LoadModel(ctx, req.Model, req.Capability)
	if err != nil {
		finish(r, start, writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.LoadResponse{Model: info.ID, EngineID: info.EngineID})
	finish(r, start, http.StatusOK, nil)
}

// @Summary      Stream a completion as NDJSON
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request body types.InferRequest true "Completion request"
// @Success      200 {string} string "NDJSON token lines and a final done line"
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse
// @Router       /v1/completions [post]
func (s *server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	s.stream(w, r, req)
}

// @Summary      Chat completion, JSON or NDJSON when stream is set
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request body types.ChatRequest true "Chat request"
// @Success      200 {object} types.CompletionResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	if req.Stream {
		s.stream(w, r, types.InferRequest{Model: req.Model, Messages: req.Messages, Stream: true, Sampling: req.Sampling})
		return
	}
	start := time.Now()
	ctx, cancel := generationContext(r)
	defer cancel()
	resp, err := s.svc.GenerateChat(ctx, req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		finish(r, start, writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	finish(r, start, http.StatusOK, nil)
}

// @Summary      Embed inputs
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request body types.EmbeddingsRequest true "Embeddings request"
// @Success      200 {object} types.EmbeddingsResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /v1/embeddings [post]
func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Input) == 0 {
		writeJSONError(w, http.StatusBadRequest, "input is required")
		return
	}
	start := time.Now()
	ctx, cancel := generationContext(r)
	defer cancel()
	resp, err := s.svc.GenerateEmbeddings(ctx, req)
	if err != nil {
		finish(r, start, writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	finish(r, start, http.StatusOK, nil)
}

// trackingWriter records whether any body bytes were written.
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.w.Write(p)
}

// stream serves req as NDJSON through Service.Infer. Errors before the first
// line map to a JSON error response; later errors end the stream with an
// error line.
func (s *server) stream(w http.ResponseWriter, r *http.Request, req types.InferRequest) {
	start := time.Now()
	lg := requestLog(r, LevelInfo)
	lg.Info().Str("model", req.Model).Msg("stream start")

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	tw := &trackingWriter{w: w}
	var out io.Writer = tw
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(tw, &loggingLineWriter{log: *lg})
	}

	ctx, cancel := generationContext(r)
	defer cancel()
	err := s.svc.Infer(ctx, req, out, flush)
	switch {
	case err == nil:
		finish(r, start, http.StatusOK, nil)
	case r.Context().Err() != nil || serverBaseCtx.Err() != nil:
		// client went away or the server is shutting down
		lg.Info().Err(err).Dur("dur", time.Since(start)).Msg("stream canceled")
	case tw.wrote:
		b, _ := json.Marshal(map[string]any{"error": err.Error(), "done": true})
		_, _ = w.Write(append(b, '\n'))
		finish(r, start, http.StatusOK, err)
	default:
		finish(r, start, writeError(w, err), err)
	}
}
