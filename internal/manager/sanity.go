package manager

import (
	"context"
	"strings"

	"llmnode/internal/common/fsutil"
	"llmnode/internal/device"
)

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	EnginesRegistered int    `json:"engines_registered"`
	PluginDir         string `json:"plugin_dir,omitempty"`
	PluginDirFound    bool   `json:"plugin_dir_found"`
	Devices           int    `json:"devices"`
	DeviceTotalBytes  uint64 `json:"device_total_bytes"`
	DeviceError       string `json:"device_error,omitempty"`
	Error             string `json:"error,omitempty"`

	// Unservable maps model ids no registered engine can serve to the reason.
	Unservable map[string]string `json:"unservable,omitempty"`
}

// SanityCheck validates the engine set, the plugin directory and the device
// probe. It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck(ctx context.Context) SanityReport {
	r := SanityReport{EnginesRegistered: m.reg.EngineIDCount(), PluginDir: m.pluginDir}
	if m.pluginDir != "" {
		r.PluginDirFound = fsutil.IsDir(m.pluginDir)
	}
	devs, err := m.devices.Devices(ctx)
	if err != nil {
		r.DeviceError = err.Error()
	} else {
		s := device.Summarize(devs)
		r.Devices = s.Devices
		r.DeviceTotalBytes = s.TotalBytes
	}
	r.Unservable = m.unservableModels()
	if r.EnginesRegistered == 0 {
		r.Error = "no inference engine registered"
	}
	return r
}

func (m *Manager) unservableModels() map[string]string {
	if m.models == nil {
		return nil
	}
	var out map[string]string
	for _, d := range m.models.List() {
		reason := ""
		if _, err := m.reg.ResolveRuntime(d.Runtime); err != nil {
			reason = err.Error()
		} else if !m.reg.SupportsArchitecture(d.Runtime, d.Architectures) {
			reason = "no engine for runtime " + d.Runtime + " supports architectures " + strings.Join(d.Architectures, ",")
		}
		if reason == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[d.Name] = reason
	}
	return out
}
