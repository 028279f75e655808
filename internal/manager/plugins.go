package manager

import (
	"context"
	"sort"
	"time"

	"llmnode/internal/host"
	"llmnode/pkg/types"
)

// defaultWatchDebounce coalesces bursts of plugin directory writes.
const defaultWatchDebounce = 500 * time.Millisecond

// LoadEnginePlugins loads every plugin under the configured plugin directory
// into the registry and installs the restart policy. Individual plugin
// failures are logged and reported; they do not prevent the node from
// serving with the engines that did load.
func (m *Manager) LoadEnginePlugins() (host.ScanReport, error) {
	if m.host == nil || m.pluginDir == "" {
		m.setState(StateReady)
		return host.ScanReport{}, nil
	}
	rep, err := m.host.LoadPluginsFromDir(m.pluginDir, m.reg, m.hctx)
	m.host.SetRestartPolicy(m.restart)
	m.log.Info().
		Str("dir", m.pluginDir).
		Strs("loaded", rep.Loaded).
		Int("skipped", len(rep.Skipped)).
		Int("failed", len(rep.Failed)).
		Msg("engine plugins loaded")
	m.setState(StateReady)
	return rep, err
}

// ReloadEnginePlugins stages the plugin directory again and applies the
// result immediately when no request is in flight. Otherwise the staged
// engines are swapped in when the last active request finishes.
func (m *Manager) ReloadEnginePlugins(ctx context.Context) (types.ReloadResponse, error) {
	if m.host == nil || m.pluginDir == "" {
		return types.ReloadResponse{}, ErrDependencyUnavailable("engine plugin directory not configured")
	}
	if err := ctx.Err(); err != nil {
		return types.ReloadResponse{}, err
	}
	rep, err := m.host.StagePluginsFromDir(m.pluginDir, m.hctx)
	resp := types.ReloadResponse{Staged: rep.Staged, Skipped: rep.Skipped}
	if len(rep.Failed) > 0 {
		resp.Failed = make(map[string]string, len(rep.Failed))
		for p, ferr := range rep.Failed {
			resp.Failed[p] = ferr.Error()
		}
	}
	m.publish(EventPluginsStaged, "", map[string]any{"reason": "reload", "staged": rep.Staged, "failed": len(rep.Failed)})
	resp.Applied = m.ApplyPendingIfIdle()
	sort.Strings(resp.Applied)
	return resp, err
}

// WatchPlugins restages the plugin directory whenever a manifest or library
// under it changes. The watcher is stopped by Close.
func (m *Manager) WatchPlugins(debounce time.Duration) error {
	if m.host == nil || m.pluginDir == "" {
		return ErrDependencyUnavailable("engine plugin directory not configured")
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	w, err := m.host.Watch(m.pluginDir, debounce, func() {
		m.restage(host.ReasonWatch)
		m.ApplyPendingIfIdle()
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	old := m.watcher
	m.watcher = w
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
