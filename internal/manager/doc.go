// Package manager is the request-facing orchestrator. It resolves a model to
// an engine, admits the load against device memory, serializes calls per model
// instance, runs every engine call under a watchdog, records token timing, and
// re-stages engine plugins when an engine fails.
//
// Files by concern:
//
//   - manager.go: Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: State, Instance, Snapshot.
//   - errors.go: typed errors and IsXxx helpers.
//   - active.go: active-request counter and idle-gated plugin apply.
//   - vram.go: device-memory admission.
//   - ensure.go: model instance lifecycle.
//   - admission.go: per-instance queueing.
//   - call.go: watchdog and fault handling around engine calls.
//   - metrics.go: token timing and Prometheus collectors.
//   - inference.go: generation, embeddings and NDJSON streaming.
//   - plugins.go: plugin load, reload and watch.
//   - status_report.go, unload.go, ops.go, sanity.go.
package manager
