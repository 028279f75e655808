package manager

import (
	"time"

	"github.com/rs/zerolog"

	"llmnode/internal/device"
	"llmnode/internal/engine"
	"llmnode/internal/host"
	"llmnode/internal/registry"
	"llmnode/internal/watchdog"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// ModelSource resolves model names. models.Catalog implements it.
type ModelSource interface {
	Resolve(name string) (engine.ModelDescriptor, error)
	List() []engine.ModelDescriptor
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry *registry.Registry
	// Host is optional; without it plugin operations and crash recovery are
	// disabled.
	Host    *host.Host
	Models  ModelSource
	Devices device.Provider

	PluginDir   string
	HostContext *engine.HostContext
	// RestartPolicy is installed on the host by LoadEnginePlugins.
	RestartPolicy host.RestartPolicy

	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	// WatchdogTimeout bounds each engine call. Zero disables the watchdog;
	// negative selects watchdog.DefaultTimeout.
	WatchdogTimeout time.Duration
	// Terminate runs when the watchdog fires. Defaults to a fatal log exit.
	Terminate func(call string)

	Publisher EventPublisher
	Logger    zerolog.Logger
	// TokenHook receives metrics for every completed generation.
	TokenHook func(TokenMetrics)
	Now       func() time.Time
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateLoading,
		reg:          cfg.Registry,
		host:         cfg.Host,
		models:       cfg.Models,
		devices:      cfg.Devices,
		pluginDir:    cfg.PluginDir,
		restart:      cfg.RestartPolicy,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		publisher:    cfg.Publisher,
		log:          cfg.Logger,
		tokenHook:    cfg.TokenHook,
		now:          cfg.Now,
	}
	if m.reg == nil {
		m.reg = registry.New()
	}
	if m.devices == nil {
		m.devices = device.None
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	switch {
	case cfg.WatchdogTimeout < 0:
		m.watchdogTimeout = watchdog.DefaultTimeout
	default:
		m.watchdogTimeout = cfg.WatchdogTimeout
	}
	m.terminate = cfg.Terminate
	if m.terminate == nil {
		m.terminate = func(call string) { watchdog.DefaultTerminate(m.log, call, m.watchdogTimeout)() }
	}
	if cfg.HostContext != nil {
		hc := *cfg.HostContext
		m.hctx = &hc
	} else {
		m.hctx = &engine.HostContext{ABIVersion: engine.ABIVersion, Manager: m, Logger: m.log}
		if d, ok := cfg.Models.(interface{ Dir() string }); ok {
			m.hctx.ModelsDir = d.Dir()
		}
	}
	m.startTime = m.now()
	return m
}
