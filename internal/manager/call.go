package manager

import (
	"context"
	"errors"
	"fmt"

	"llmnode/internal/host"
	"llmnode/internal/watchdog"
)

// callEngine runs fn under the watchdog and converts a panic into an engine
// fault. Any failure other than cancellation or a caller callback error
// triggers crash-recovery staging; the original error is still returned.
// cbErr, when non-nil, is where trackCallback records callback failures.
func (m *Manager) callEngine(ctx context.Context, inst *Instance, call string, cbErr *error, fn func() error) (err error) {
	if m.watchdogTimeout > 0 {
		watchdogArms.Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			err = engineFaultError{engineID: inst.EngineID, call: call, err: fmt.Errorf("panic: %v", r)}
		}
		if err == nil || (cbErr != nil && *cbErr != nil && errors.Is(err, *cbErr)) {
			return
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		if !IsEngineFault(err) {
			err = engineFaultError{engineID: inst.EngineID, call: call, err: err}
		}
		m.handleEngineFault(inst, call, err)
	}()
	_, err = watchdog.Run(m.watchdogTimeout, func() { m.terminate(call) }, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// trackCallback wraps a caller-supplied callback so callEngine can tell its
// errors apart from engine failures.
func trackCallback(dst *error, fn func(string) error) func(string) error {
	return func(s string) error {
		if err := fn(s); err != nil {
			*dst = err
			return err
		}
		return nil
	}
}

// handleEngineFault re-stages plugins from the plugin directory so future
// calls get a fresh engine. Built-in engines are not restaged.
func (m *Manager) handleEngineFault(inst *Instance, call string, err error) {
	m.faultsTotal.Add(1)
	engineFaults.WithLabelValues(inst.EngineID).Inc()
	m.log.Error().Err(err).Str("engine_id", inst.EngineID).Str("model", inst.ID).Str("call", call).Msg("engine call failed")
	m.mu.Lock()
	m.err = err.Error()
	m.mu.Unlock()

	if m.host == nil || inst.Builtin {
		return
	}
	if !m.host.MarkCrashRestart() {
		return
	}
	m.publish(EventPluginCrash, inst.ID, map[string]any{"engine_id": inst.EngineID, "call": call, "error": err.Error()})
	m.restage(host.ReasonCrash)
}

// restage stages the plugin directory again and records the outcome.
func (m *Manager) restage(reason string) {
	rep, err := m.host.StageRestart(reason)
	if err != nil {
		m.log.Warn().Err(err).Str("reason", reason).Msg("restage engine plugins")
	}
	pluginRestarts.WithLabelValues(reason).Inc()
	m.publish(EventPluginsStaged, "", map[string]any{"reason": reason, "staged": rep.Staged, "failed": len(rep.Failed)})
}
