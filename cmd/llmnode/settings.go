package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"llmnode/internal/config"
)

// defaultConfig holds the values used when neither file, environment nor
// flags set a field.
func defaultConfig() config.Config {
	return config.Config{
		Addr:        ":8080",
		ModelsDir:   "~/models/llm",
		DeviceProbe: config.ProbeNone,
		LogLevel:    "info",
	}
}

// setting binds one config field to a flag and an LLMNODE_* variable.
type setting struct {
	flag  string
	env   string
	usage string
	set   func(c *config.Config, v string) error
}

func str(f func(c *config.Config) *string) func(*config.Config, string) error {
	return func(c *config.Config, v string) error { *f(c) = v; return nil }
}

func integer(f func(c *config.Config) *int) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func boolean(f func(c *config.Config) *bool) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*f(c) = b
		return nil
	}
}

func csv(f func(c *config.Config) *[]string) func(*config.Config, string) error {
	return func(c *config.Config, v string) error { *f(c) = splitCSV(v); return nil }
}

var settings = []setting{
	{"addr", "LLMNODE_ADDR", "HTTP listen address, e.g. :8080", str(func(c *config.Config) *string { return &c.Addr })},
	{"models-dir", "LLMNODE_MODELS_DIR", "Directory to scan for *.gguf files and model.yaml sidecars", str(func(c *config.Config) *string { return &c.ModelsDir })},
	{"engine-plugins-dir", "LLMNODE_ENGINE_PLUGINS_DIR", "Directory holding engine plugins (<dir>/<plugin>/manifest.json)", str(func(c *config.Config) *string { return &c.PluginsDir })},
	{"default-model", "LLMNODE_DEFAULT_MODEL", "Default model id when a request omits model", str(func(c *config.Config) *string { return &c.DefaultModel })},
	{"watchdog-timeout-ms", "LLMNODE_WATCHDOG_TIMEOUT_MS", "Per engine call watchdog in ms (0=default, negative=off)", integer(func(c *config.Config) *int { return &c.WatchdogTimeoutMS })},
	{"plugin-restart-interval-sec", "LLMNODE_PLUGIN_RESTART_INTERVAL_SEC", "Restage engine plugins after this many seconds (0=off)", integer(func(c *config.Config) *int { return &c.PluginRestartIntervalSec })},
	{"plugin-restart-request-limit", "LLMNODE_PLUGIN_RESTART_REQUEST_LIMIT", "Restage engine plugins after this many requests (0=off)", func(c *config.Config, v string) error {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		c.PluginRestartRequestLimit = n
		return nil
	}},
	{"watch-plugins", "LLMNODE_WATCH_PLUGINS", "Restage engine plugins when the plugin directory changes", boolean(func(c *config.Config) *bool { return &c.WatchPlugins })},
	{"gpu-targets", "LLMNODE_GPU_TARGETS", "Comma-separated GPU backends this host supports (cuda,rocm,metal,vulkan)", csv(func(c *config.Config) *[]string { return &c.GPUTargets })},
	{"device-probe", "LLMNODE_DEVICE_PROBE", "Device memory probe: static|nvidia-smi|none", str(func(c *config.Config) *string { return &c.DeviceProbe })},
	{"vram-total-mb", "LLMNODE_VRAM_TOTAL_MB", "Memory of the single static device in MB", integer(func(c *config.Config) *int { return &c.VRAMTotalMB })},
	{"max-queue-depth", "LLMNODE_MAX_QUEUE_DEPTH", "Per-instance queue depth before 429 (0=default)", integer(func(c *config.Config) *int { return &c.MaxQueueDepth })},
	{"max-wait-ms", "LLMNODE_MAX_WAIT_MS", "Max queue wait in ms before 429 (0=default)", integer(func(c *config.Config) *int { return &c.MaxWaitMS })},
	{"llama-ctx", "LLMNODE_LLAMA_CTX", "Context window of the built-in llama engine (0=default)", integer(func(c *config.Config) *int { return &c.LlamaCtx })},
	{"llama-threads", "LLMNODE_LLAMA_THREADS", "Threads for the built-in llama engine (0=auto)", integer(func(c *config.Config) *int { return &c.LlamaThreads })},
	{"cors-enabled", "LLMNODE_CORS_ENABLED", "Enable CORS middleware", boolean(func(c *config.Config) *bool { return &c.CORSEnabled })},
	{"cors-origins", "LLMNODE_CORS_ORIGINS", "Comma-separated allowed CORS origins", csv(func(c *config.Config) *[]string { return &c.CORSOrigins })},
	{"max-body-bytes", "LLMNODE_MAX_BODY_BYTES", "Max JSON request body size (0=default)", func(c *config.Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		c.MaxBodyBytes = n
		return nil
	}},
}

// bindSettings registers one string flag per setting. Values are parsed by
// resolveConfig so that file, environment and flags share one code path.
func bindSettings(fs *pflag.FlagSet) {
	for _, s := range settings {
		fs.String(s.flag, "", s.usage+" (env "+s.env+")")
	}
	fs.String("config", "", "Config file (.yaml, .yml, .json or .toml)")
}

// resolveConfig layers defaults, the config file, LLMNODE_* variables and
// explicitly set flags, in that order.
func resolveConfig(fs *pflag.FlagSet, lookupEnv func(string) (string, bool)) (config.Config, error) {
	cfg := defaultConfig()
	if path, _ := fs.GetString("config"); path != "" {
		fc, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		merge(&cfg, fc)
	}
	for _, s := range settings {
		if v, ok := lookupEnv(s.env); ok && v != "" {
			if err := s.set(&cfg, v); err != nil {
				return cfg, fmt.Errorf("%s: %w", s.env, err)
			}
		}
	}
	for _, s := range settings {
		f := fs.Lookup(s.flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := s.set(&cfg, f.Value.String()); err != nil {
			return cfg, fmt.Errorf("--%s: %w", s.flag, err)
		}
	}
	if v, ok := lookupEnv("LLMNODE_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if f := fs.Lookup("log-level"); f != nil && f.Changed {
		cfg.LogLevel = f.Value.String()
	}
	return cfg, cfg.Validate()
}

// merge copies the non-zero fields of src onto dst.
func merge(dst *config.Config, src config.Config) {
	if src.Addr != "" {
		dst.Addr = src.Addr
	}
	if src.ModelsDir != "" {
		dst.ModelsDir = src.ModelsDir
	}
	if src.PluginsDir != "" {
		dst.PluginsDir = src.PluginsDir
	}
	if src.DefaultModel != "" {
		dst.DefaultModel = src.DefaultModel
	}
	if src.WatchdogTimeoutMS != 0 {
		dst.WatchdogTimeoutMS = src.WatchdogTimeoutMS
	}
	if src.PluginRestartIntervalSec != 0 {
		dst.PluginRestartIntervalSec = src.PluginRestartIntervalSec
	}
	if src.PluginRestartRequestLimit != 0 {
		dst.PluginRestartRequestLimit = src.PluginRestartRequestLimit
	}
	dst.WatchPlugins = dst.WatchPlugins || src.WatchPlugins
	if src.GPUTargets != nil {
		dst.GPUTargets = src.GPUTargets
	}
	if src.DeviceProbe != "" {
		dst.DeviceProbe = src.DeviceProbe
	}
	if src.VRAMTotalMB != 0 {
		dst.VRAMTotalMB = src.VRAMTotalMB
	}
	if src.MaxQueueDepth != 0 {
		dst.MaxQueueDepth = src.MaxQueueDepth
	}
	if src.MaxWaitMS != 0 {
		dst.MaxWaitMS = src.MaxWaitMS
	}
	if src.LlamaCtx != 0 {
		dst.LlamaCtx = src.LlamaCtx
	}
	if src.LlamaThreads != 0 {
		dst.LlamaThreads = src.LlamaThreads
	}
	dst.CORSEnabled = dst.CORSEnabled || src.CORSEnabled
	if src.CORSOrigins != nil {
		dst.CORSOrigins = src.CORSOrigins
	}
	if src.MaxBodyBytes != 0 {
		dst.MaxBodyBytes = src.MaxBodyBytes
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}
