package host

import (
	"sort"

	"llmnode/internal/engine"
)

// StagePlugin prepares a replacement engine without touching the registry.
// Staging an id that already has a pending entry releases the older entry
// first. It reports the staged engine id, or "" when the plugin was skipped.
func (h *Host) StagePlugin(path string, hctx *engine.HostContext) (string, error) {
	p, err := h.prepare(path, hctx)
	if err != nil || p == nil {
		return "", err
	}
	h.mu.Lock()
	prev := h.pending[p.reg.EngineID]
	h.pending[p.reg.EngineID] = p
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	h.log.Info().Str("engine_id", p.reg.EngineID).Str("version", p.reg.EngineVersion).Bool("replaced_pending", prev != nil).Msg("engine plugin staged")
	return p.reg.EngineID, nil
}

// StagePluginsFromDir stages every plugin under dir, best-effort like
// LoadPluginsFromDir.
func (h *Host) StagePluginsFromDir(dir string, hctx *engine.HostContext) (ScanReport, error) {
	h.remember(dir, hctx)
	var rep ScanReport
	paths, err := scanDir(dir)
	if err != nil {
		return rep, err
	}
	var first error
	for _, p := range paths {
		id, err := h.StagePlugin(p, hctx)
		switch {
		case err != nil:
			h.log.Warn().Err(err).Str("manifest", p).Msg("engine plugin stage failed")
			rep.fail(p, err)
			if first == nil {
				first = err
			}
		case id == "":
			rep.Skipped = append(rep.Skipped, p)
		default:
			rep.Staged = append(rep.Staged, id)
		}
	}
	return rep, first
}

// HasPendingPlugins reports whether any replacement is staged.
func (h *Host) HasPendingPlugins() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending) > 0
}

// ApplyPendingPlugins swaps every staged engine into reg and returns the
// swapped ids. The previous plugin for an id is released only after the
// registry holds the replacement. Callers must guarantee no in-flight call
// holds a replaced engine.
func (h *Host) ApplyPendingPlugins(reg Registrar) ([]string, error) {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[string]*pluginHandle)
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		swapped []string
		retired []*pluginHandle
		first   error
	)
	for _, id := range ids {
		p := pending[id]
		if _, err := reg.Replace(p.eng, p.reg); err != nil {
			retired = append(retired, p)
			if first == nil {
				first = &LoadError{EngineID: id, Path: p.manifest, Stage: StageRegister, Err: err}
			}
			continue
		}
		if old := h.loaded[id]; old != nil {
			retired = append(retired, old)
		}
		h.loaded[id] = p
		swapped = append(swapped, id)
	}
	if len(swapped) > 0 {
		h.restart.pending = false
		h.restart.reason = ""
	}
	h.mu.Unlock()

	for _, p := range retired {
		p.close()
	}
	if len(swapped) > 0 {
		h.log.Info().Strs("engine_ids", swapped).Msg("engine plugins applied")
	}
	return swapped, first
}
