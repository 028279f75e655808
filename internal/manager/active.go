package manager

import (
	"sync"

	"llmnode/internal/host"
)

// beginRequest counts a request in. It first lets the restart policy stage
// fresh plugins and applies anything pending while the node is idle. The
// returned func counts the request out and is safe to call more than once.
func (m *Manager) beginRequest() func() {
	if m.host != nil && m.host.NoteRequest() {
		m.restage(host.ReasonPolicy)
	}
	m.activeMu.Lock()
	if m.active == 0 {
		m.applyPendingLocked()
	}
	m.active++
	activeRequests.Set(float64(m.active))
	m.activeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.activeMu.Lock()
			m.active--
			activeRequests.Set(float64(m.active))
			if m.active == 0 {
				m.applyPendingLocked()
			}
			m.activeMu.Unlock()
		})
	}
}

// ActiveRequests reports requests currently counted in.
func (m *Manager) ActiveRequests() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.active
}

// ApplyPendingIfIdle swaps staged engines in when no request is active. It
// returns the swapped engine ids, or nil when busy or nothing was staged.
func (m *Manager) ApplyPendingIfIdle() []string {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if m.active > 0 {
		return nil
	}
	return m.applyPendingLocked()
}

// applyPendingLocked requires activeMu and active == 0.
func (m *Manager) applyPendingLocked() []string {
	if m.host == nil || !m.host.HasPendingPlugins() {
		return nil
	}
	swapped, err := m.host.ApplyPendingPlugins(m.reg)
	if err != nil {
		m.log.Warn().Err(err).Msg("apply staged engine plugins")
	}
	if len(swapped) == 0 {
		return nil
	}
	pluginSwaps.Add(float64(len(swapped)))

	ids := make(map[string]bool, len(swapped))
	for _, id := range swapped {
		ids[id] = true
	}
	var dropped []string
	m.mu.Lock()
	for name, inst := range m.instances {
		if ids[inst.EngineID] {
			m.usedEstMB -= inst.EstVRAMMB
			if m.usedEstMB < 0 {
				m.usedEstMB = 0
			}
			delete(m.instances, name)
			dropped = append(dropped, name)
		}
	}
	if m.cur != nil && ids[m.cur.EngineID] {
		m.cur = nil
	}
	m.mu.Unlock()

	m.log.Info().Strs("engine_ids", swapped).Strs("dropped_instances", dropped).Msg("engine plugins swapped")
	m.publish(EventPluginsApplied, "", map[string]any{"engine_ids": swapped, "dropped_instances": dropped})
	return swapped
}
