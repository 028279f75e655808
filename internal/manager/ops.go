package manager

import (
	"context"
	"strconv"
)

// LoadModel loads modelID into the engine serving capability and returns the
// engine id it was bound to.
func (m *Manager) LoadModel(ctx context.Context, modelID, capability string) (ModelInfo, error) {
	done := m.beginRequest()
	defer done()
	inst, err := m.ensure(ctx, modelID, capability)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{ID: inst.ID, EngineID: inst.EngineID}, nil
}

// Switch kicks off an async load and returns an operation ID. Callers poll
// Status() to observe state transitions; failures surface as load error
// events.
func (m *Manager) Switch(ctx context.Context, modelID, capability string) (string, error) {
	if _, err := m.resolveModelID(modelID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	op := m.nextOpID()
	// counted in before returning so a concurrent apply waits for the load
	done := m.beginRequest()
	go func(opID string) {
		defer done()
		// detached: the load outlives the caller's request
		if _, err := m.ensure(context.Background(), modelID, capability); err != nil {
			m.log.Warn().Err(err).Str("op_id", opID).Str("model", modelID).Msg("background load failed")
		}
	}(op)
	return op, nil
}

func (m *Manager) nextOpID() string {
	return "op-" + strconv.FormatUint(m.opSeq.Add(1), 10)
}
