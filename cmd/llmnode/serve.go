package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmnode/internal/builtin"
	"llmnode/internal/common/fsutil"
	"llmnode/internal/config"
	"llmnode/internal/device"
	"llmnode/internal/host"
	"llmnode/internal/httpapi"
	"llmnode/internal/library"
	"llmnode/internal/manager"
	"llmnode/internal/models"
	"llmnode/internal/registry"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load engines and serve the HTTP API",
		Example: "  llmnode serve --models-dir ~/models/llm --engine-plugins-dir /opt/llmnode/engines\n" +
			"  llmnode serve --config /etc/llmnode.yaml --device-probe nvidia-smi",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), os.LookupEnv)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			n, err := buildNode(cfg, log, library.NewPluginLoader())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return n.serve(ctx, cfg.Addr)
		},
	}
	bindSettings(cmd.Flags())
	return cmd
}

// node is a fully wired process: engines loaded, manager ready, routes built.
type node struct {
	log     zerolog.Logger
	mgr     *manager.Manager
	handler http.Handler
	report  host.ScanReport
}

// deviceProvider maps the configured probe to a device.Provider. A static
// probe without a size, or no probe at all, disables VRAM admission.
func deviceProvider(cfg config.Config) device.Provider {
	switch cfg.DeviceProbe {
	case config.ProbeNvidiaSMI:
		return device.NvidiaSMI{}
	case config.ProbeStatic:
		if cfg.VRAMTotalMB <= 0 {
			return device.None
		}
		b := uint64(cfg.VRAMTotalMB) << 20
		return device.Static{{Index: 0, Name: "static", TotalBytes: b, FreeBytes: b, Available: true}}
	default:
		return device.None
	}
}

func buildNode(cfg config.Config, log zerolog.Logger, loader library.Loader) (*node, error) {
	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	catalog, err := models.LoadDir(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("load models from %s: %w", modelsDir, err)
	}

	reg := registry.New()
	opts := builtin.Options{
		ContextSize: cfg.LlamaCtx,
		Threads:     cfg.LlamaThreads,
		Logger:      log.With().Str("component", "builtin").Logger(),
	}
	if _, err := builtin.Register(reg, opts); err != nil {
		return nil, fmt.Errorf("register built-in engine: %w", err)
	}

	pluginsDir, err := fsutil.ExpandHome(cfg.PluginsDir)
	if err != nil {
		return nil, err
	}
	var h *host.Host
	if pluginsDir != "" {
		h = host.New(host.Config{
			Loader:     loader,
			GPUTargets: cfg.GPUTargets,
			Logger:     log.With().Str("component", "host").Logger(),
		})
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:  reg,
		Host:      h,
		Models:    catalog,
		Devices:   deviceProvider(cfg),
		PluginDir: pluginsDir,
		RestartPolicy: host.RestartPolicy{
			Interval:     cfg.RestartInterval(),
			RequestLimit: cfg.PluginRestartRequestLimit,
		},
		DefaultModel:    cfg.DefaultModel,
		MaxQueueDepth:   cfg.MaxQueueDepth,
		MaxWait:         cfg.MaxWait(),
		WatchdogTimeout: cfg.WatchdogTimeout(),
		Logger:          log.With().Str("component", "manager").Logger(),
	})
	rep, err := mgr.LoadEnginePlugins()
	if err != nil {
		log.Warn().Err(err).Int("failed", len(rep.Failed)).Msg("some engine plugins failed to load")
	}
	if cfg.WatchPlugins && pluginsDir != "" {
		if err := mgr.WatchPlugins(0); err != nil {
			log.Warn().Err(err).Str("dir", pluginsDir).Msg("plugin watcher not started")
		}
	}
	if sr := mgr.SanityCheck(context.Background()); sr.Error != "" || sr.DeviceError != "" {
		log.Warn().Interface("sanity", sr).Msg("sanity check reported problems")
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	if cfg.LogLevel != "" {
		httpapi.SetDefaultLogLevel(cfg.LogLevel)
	}
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)

	return &node{log: log, mgr: mgr, handler: httpapi.NewMux(mgr), report: rep}, nil
}

// serve runs the HTTP server until ctx is canceled, then drains requests and
// releases every engine.
func (n *node) serve(ctx context.Context, addr string) error {
	httpapi.SetBaseContext(ctx)
	srv := &http.Server{Addr: addr, Handler: n.handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		n.log.Info().Str("addr", addr).Msg("llmnode listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		n.log.Error().Err(err).Msg("graceful shutdown error")
	}
	if err := n.mgr.Close(); err != nil {
		n.log.Error().Err(err).Msg("engine shutdown error")
	}
	n.log.Info().Msg("llmnode stopped")
	return serveErr
}
