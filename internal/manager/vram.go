package manager

import (
	"context"
	"fmt"

	"llmnode/internal/device"
)

// checkVRAM admits a model needing required bytes. Each registered engine id
// gets an equal share of the largest device; the requirement must fit both
// that share and the memory free right now. Unknown requirements and hosts
// without devices are admitted.
func checkVRAM(s device.Summary, required uint64, engines int) error {
	if required == 0 || s.Devices == 0 || s.TotalBytes == 0 {
		return nil
	}
	if engines < 1 {
		engines = 1
	}
	budget := s.TotalBytes / uint64(engines)
	if required > budget {
		return resourceExhaustedError{msg: fmt.Sprintf("Insufficient VRAM budget available (required=%d budget=%d engines=%d)", required, budget, engines)}
	}
	if required > s.FreeBytes {
		return resourceExhaustedError{msg: fmt.Sprintf("Insufficient VRAM available (required=%d free=%d)", required, s.FreeBytes)}
	}
	return nil
}

// admitVRAM samples devices and applies checkVRAM. A failing probe is logged
// and admits the model.
func (m *Manager) admitVRAM(ctx context.Context, modelID string, required uint64) error {
	devs, err := m.devices.Devices(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("model", modelID).Msg("device probe failed; skipping vram admission")
		return nil
	}
	if err := checkVRAM(device.Summarize(devs), required, m.reg.EngineIDCount()); err != nil {
		admissionRejections.WithLabelValues("vram").Inc()
		m.log.Warn().Err(err).Str("model", modelID).Uint64("required_bytes", required).Msg("vram admission rejected")
		m.publish(EventVRAMRejected, modelID, map[string]any{"required_bytes": required, "error": err.Error()})
		return err
	}
	return nil
}
