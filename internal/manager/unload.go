package manager

import (
	"time"
)

// Unload drains every instance of modelID and removes it.
//   - Sets instance state to draining to reject new enqueues.
//   - Waits up to drainTimeout for in-flight and queued requests to finish.
//   - Removes the instance entries and their memory estimates.
//
// Engines keep no per-model unload hook; the engine releases model memory
// when it is swapped out or destroyed.
func (m *Manager) Unload(modelID string) error {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	var targets []*Instance
	for _, inst := range m.instances {
		if inst.ID == id {
			inst.State = StateDraining
			targets = append(targets, inst)
		}
	}
	m.mu.Unlock()
	if len(targets) == 0 {
		return ErrModelNotFound(id)
	}
	m.publish(EventUnloadStart, id, map[string]any{"instances": len(targets)})

	deadline := time.Now().Add(m.drainTimeout)
	for _, inst := range targets {
		for {
			qlen, inflight := len(inst.queueCh), len(inst.genCh)
			if inflight == 0 && qlen == 0 {
				break
			}
			if time.Now().After(deadline) {
				m.log.Warn().Str("model", id).Str("engine_id", inst.EngineID).Int("inflight", inflight).Int("queue", qlen).Msg("unload drain timed out")
				m.publish(EventUnloadTimeout, id, map[string]any{"engine_id": inst.EngineID, "inflight": inflight, "queue": qlen})
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	m.mu.Lock()
	for _, inst := range targets {
		key := instanceKey(inst.ID, inst.EngineID)
		if m.instances[key] != inst {
			continue
		}
		m.usedEstMB -= inst.EstVRAMMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
		delete(m.instances, key)
	}
	if m.cur != nil && m.cur.ID == id {
		m.cur = nil
	}
	m.mu.Unlock()

	m.log.Info().Str("model", id).Msg("model unloaded")
	m.publish(EventUnloadDone, id, nil)
	return nil
}

// Close drains every instance, stops the plugin watcher and releases the
// plugin libraries owned by the host. The registry must not be used for
// plugin engines afterwards.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make(map[string]struct{}, len(m.instances))
	for _, inst := range m.instances {
		ids[inst.ID] = struct{}{}
	}
	w := m.watcher
	m.mu.RUnlock()

	for id := range ids {
		if err := m.Unload(id); err != nil && !IsModelNotFound(err) {
			m.log.Warn().Err(err).Str("model", id).Msg("unload on close")
		}
	}
	var err error
	if w != nil {
		err = w.Close()
	}
	if m.host != nil {
		m.host.Close()
	}
	return err
}
