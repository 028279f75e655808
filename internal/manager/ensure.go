package manager

import (
	"context"
	"time"

	"llmnode/internal/engine"
)

func instanceKey(modelID, engineID string) string { return modelID + "@" + engineID }

// EnsureInstance makes sure modelID is loaded into the engine that serves
// capability ("text" when empty).
func (m *Manager) EnsureInstance(ctx context.Context, modelID, capability string) error {
	done := m.beginRequest()
	defer done()
	_, err := m.ensure(ctx, modelID, capability)
	return err
}

// ensure resolves the model and its engine and loads the model on first use.
// The caller must hold a request slot (beginRequest).
func (m *Manager) ensure(ctx context.Context, modelID, capability string) (*Instance, error) {
	startTs := m.now()
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return nil, err
	}
	if m.models == nil {
		return nil, ErrModelNotFound(id)
	}
	desc, err := m.models.Resolve(id)
	if err != nil {
		return nil, ErrModelNotFound(id)
	}
	if capability == "" {
		capability = engine.CapabilityText
	}
	match, err := m.reg.Resolve(desc, capability)
	if err != nil {
		admissionRejections.WithLabelValues("resolution").Inc()
		return nil, err
	}

	key := instanceKey(id, match.EngineID)
	m.mu.Lock()
	inst := m.instances[key]
	if inst == nil {
		inst = &Instance{
			ID:       id,
			EngineID: match.EngineID,
			Builtin:  match.Builtin,
			State:    StateLoading,
			LastUsed: m.now(),
			desc:     desc,
			engine:   match.Engine,
			genCh:    make(chan struct{}, 1),
			queueCh:  make(chan struct{}, m.maxQueueDepth),
		}
		m.instances[key] = inst
	}
	m.mu.Unlock()

	inst.loadMu.Lock()
	defer inst.loadMu.Unlock()

	m.mu.Lock()
	switch inst.State {
	case StateReady:
		inst.LastUsed = m.now()
		m.mu.Unlock()
		return inst, nil
	case StateDraining:
		m.mu.Unlock()
		return nil, tooBusyError{modelID: id}
	}
	// a failed load by another caller may have dropped the entry
	switch cur := m.instances[key]; {
	case cur == nil:
		m.instances[key] = inst
	case cur != inst:
		m.mu.Unlock()
		return m.ensure(ctx, modelID, capability)
	}
	inst.State = StateLoading
	m.mu.Unlock()

	m.log.Info().Str("model", id).Str("engine_id", match.EngineID).Msg("model load start")
	m.publish(EventModelLoadStart, id, map[string]any{"engine_id": match.EngineID})

	required := inst.engine.ModelVRAMBytes(desc)
	if err := m.admitVRAM(ctx, id, required); err != nil {
		m.dropInstance(key, inst)
		return nil, err
	}

	err = m.callEngine(ctx, inst, "load_model", nil, func() error {
		return inst.engine.LoadModel(ctx, desc)
	})
	if err != nil {
		m.dropInstance(key, inst)
		m.mu.Lock()
		m.err = err.Error()
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("model", id).Str("engine_id", match.EngineID).Msg("model load failed")
		m.publish(EventModelLoadError, id, map[string]any{"engine_id": match.EngineID, "error": err.Error()})
		return nil, err
	}

	estMB := int(required >> 20)
	m.mu.Lock()
	inst.State = StateReady
	inst.EstVRAMMB = estMB
	inst.LastUsed = m.now()
	m.usedEstMB += estMB
	m.cur = &ModelInfo{ID: id, EngineID: match.EngineID}
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()
	m.loadsTotal.Add(1)

	dur := m.now().Sub(startTs)
	m.log.Info().Str("model", id).Str("engine_id", match.EngineID).Dur("dur", dur).Msg("model load ready")
	m.publish(EventModelLoadReady, id, map[string]any{"engine_id": match.EngineID, "dur_ms": int(dur / time.Millisecond)})
	return inst, nil
}

// dropInstance removes inst if it is still registered under key.
func (m *Manager) dropInstance(key string, inst *Instance) {
	m.mu.Lock()
	if m.instances[key] == inst {
		delete(m.instances, key)
	}
	inst.State = StateError
	m.mu.Unlock()
}
