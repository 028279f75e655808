package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llmnode/internal/device"
	"llmnode/internal/engine"
	"llmnode/internal/host"
	"llmnode/internal/registry"
	"llmnode/pkg/types"
)

type Manager struct {
	mu        sync.RWMutex
	state     State
	cur       *ModelInfo
	err       string
	instances map[string]*Instance
	usedEstMB int
	publisher EventPublisher

	reg       *registry.Registry
	host      *host.Host
	models    ModelSource
	devices   device.Provider
	hctx      *engine.HostContext
	pluginDir string
	restart   host.RestartPolicy
	watcher   *host.Watcher

	defaultModel    string
	maxQueueDepth   int
	maxWait         time.Duration
	drainTimeout    time.Duration
	watchdogTimeout time.Duration
	terminate       func(call string)

	// activeMu guards active. Plugin apply runs under it, so no request can
	// enter while engines are swapped.
	activeMu sync.Mutex
	active   int

	loadsTotal  atomic.Uint64
	faultsTotal atomic.Uint64
	opSeq       atomic.Uint64

	log       zerolog.Logger
	tokenHook func(TokenMetrics)
	now       func() time.Time
	startTime time.Time
}

// Registry returns the engine registry the manager resolves against.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Ready reports whether the node can serve: at least one engine is registered
// and the manager is not in an error state.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	return m.reg.EngineIDCount() > 0
}

// ListModels returns the catalog as API models.
func (m *Manager) ListModels() []types.Model {
	if m.models == nil {
		return []types.Model{}
	}
	descs := m.models.List()
	out := make([]types.Model, 0, len(descs))
	for _, d := range descs {
		out = append(out, types.Model{
			ID:            d.Name,
			Path:          d.PrimaryPath,
			Runtime:       d.Runtime,
			Format:        d.Format,
			Architectures: d.Architectures,
			Capabilities:  d.Capabilities,
		})
	}
	return out
}

// Engines describes registered engines, staged replacements and restart state.
func (m *Manager) Engines() types.EnginesResponse {
	libs := map[string]string{}
	var resp types.EnginesResponse
	if m.host != nil {
		for _, p := range m.host.Loaded() {
			libs[p.EngineID] = p.Library
		}
		for _, p := range m.host.Pending() {
			resp.Pending = append(resp.Pending, p.EngineID)
		}
		st := m.host.RestartState()
		resp.Restart = types.RestartStatus{
			IntervalSec:        int64(st.Policy.Interval / time.Second),
			RequestLimit:       st.Policy.RequestLimit,
			LastStagedUnix:     st.LastStaged.Unix(),
			RequestsSinceStage: st.RequestsSinceStage,
			Pending:            st.Pending,
			Reason:             st.Reason,
		}
	}
	for _, e := range m.reg.Engines() {
		resp.Engines = append(resp.Engines, types.EngineInfo{
			EngineID:      e.EngineID,
			EngineVersion: e.EngineVersion,
			Runtime:       e.Runtime,
			Formats:       e.Formats,
			Architectures: e.Architectures,
			Capabilities:  e.Capabilities,
			Builtin:       e.Builtin,
			Library:       libs[e.EngineID],
		})
	}
	if resp.Engines == nil {
		resp.Engines = []types.EngineInfo{}
	}
	return resp
}

// resolveModelID applies the default model.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel == "" {
		return "", modelNotFoundError{id: "(unspecified)"}
	}
	return m.defaultModel, nil
}
