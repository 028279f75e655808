package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Event names.
const (
	EventModelLoadStart = "model_load_start"
	EventModelLoadReady = "model_load_ready"
	EventModelLoadError = "model_load_error"
	EventVRAMRejected   = "vram_rejected"
	EventPluginCrash    = "plugin_crash"
	EventPluginsStaged  = "plugins_staged"
	EventPluginsApplied = "plugins_applied"
	EventUnloadStart    = "unload_start"
	EventUnloadTimeout  = "unload_timeout"
	EventUnloadDone     = "unload_done"
)

// SetEventPublisher replaces the publisher; nil restores the no-op default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, ModelID: modelID, Fields: fields})
}
