package manager

import (
	"sort"

	"llmnode/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur *ModelInfo
	if m.cur != nil {
		c := *m.cur
		cur = &c
	}
	return Snapshot{State: m.state, CurrentModel: cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	active := m.ActiveRequests()
	pending := m.host != nil && m.host.HasPendingPlugins()
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		ActiveRequests:    active,
		EnginesRegistered: m.reg.EngineIDCount(),
		PendingPlugins:    pending,
		UsedMB:            m.usedEstMB,
		Error:             m.err,
		UptimeSeconds:     int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:    now.Unix(),
		LoadsTotal:        m.loadsTotal.Load(),
		EngineFaultsTotal: m.faultsTotal.Load(),
		State:             string(m.state),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	for _, inst := range m.instances {
		switch inst.State {
		case StateLoading:
			resp.WarmupsInProgress++
		case StateDraining:
			resp.DrainingCount++
		}
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			ModelID:       inst.ID,
			EngineID:      inst.EngineID,
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			EstVRAMMB:     inst.EstVRAMMB,
			QueueLen:      len(inst.queueCh),
			Inflight:      len(inst.genCh),
			MaxQueueDepth: cap(inst.queueCh),
		})
	}
	sort.Slice(resp.Instances, func(i, j int) bool {
		a, b := resp.Instances[i], resp.Instances[j]
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.EngineID < b.EngineID
	})
	return resp
}
