package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Device probe modes.
const (
	ProbeStatic    = "static"
	ProbeNvidiaSMI = "nvidia-smi"
	ProbeNone      = "none"
)

// Config holds runtime parameters for the node.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	PluginsDir   string `json:"engine_plugins_dir" yaml:"engine_plugins_dir" toml:"engine_plugins_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// WatchdogTimeoutMS bounds each engine call; negative disables it.
	WatchdogTimeoutMS int `json:"watchdog_timeout_ms" yaml:"watchdog_timeout_ms" toml:"watchdog_timeout_ms"`
	// Restart policy for engine plugins. Zero disables each trigger.
	PluginRestartIntervalSec  int    `json:"plugin_restart_interval_sec" yaml:"plugin_restart_interval_sec" toml:"plugin_restart_interval_sec"`
	PluginRestartRequestLimit uint64 `json:"plugin_restart_request_limit" yaml:"plugin_restart_request_limit" toml:"plugin_restart_request_limit"`
	WatchPlugins              bool   `json:"watch_plugins" yaml:"watch_plugins" toml:"watch_plugins"`
	// GPUTargets overrides the backends compiled into the binary.
	GPUTargets []string `json:"gpu_targets" yaml:"gpu_targets" toml:"gpu_targets"`

	DeviceProbe string `json:"device_probe" yaml:"device_probe" toml:"device_probe"`
	// VRAMTotalMB describes a single static device when DeviceProbe is "static".
	VRAMTotalMB int `json:"vram_total_mb" yaml:"vram_total_mb" toml:"vram_total_mb"`

	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`

	LlamaCtx     int `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no default can repair.
func (c Config) Validate() error {
	switch c.DeviceProbe {
	case "", ProbeStatic, ProbeNvidiaSMI, ProbeNone:
	default:
		return fmt.Errorf("device_probe must be one of %q, %q, %q", ProbeStatic, ProbeNvidiaSMI, ProbeNone)
	}
	if c.VRAMTotalMB < 0 || c.MaxQueueDepth < 0 || c.MaxWaitMS < 0 || c.PluginRestartIntervalSec < 0 {
		return fmt.Errorf("sizes and durations must not be negative")
	}
	return nil
}

// WatchdogTimeout converts the configured milliseconds: 0 selects the
// default, negative disables.
func (c Config) WatchdogTimeout() time.Duration {
	switch {
	case c.WatchdogTimeoutMS == 0:
		return -1
	case c.WatchdogTimeoutMS < 0:
		return 0
	default:
		return time.Duration(c.WatchdogTimeoutMS) * time.Millisecond
	}
}

// MaxWait returns the queue wait bound, 0 when unset.
func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitMS) * time.Millisecond }

// RestartInterval returns the plugin restart interval, 0 when unset.
func (c Config) RestartInterval() time.Duration {
	return time.Duration(c.PluginRestartIntervalSec) * time.Second
}
