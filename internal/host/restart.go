package host

import "time"

// RestartPolicy re-stages plugins after an interval or a number of requests.
// Zero fields disable the corresponding trigger.
type RestartPolicy struct {
	Interval     time.Duration
	RequestLimit uint64
}

// Restart reasons.
const (
	ReasonPolicy = "policy"
	ReasonCrash  = "crash"
	ReasonWatch  = "watch"
)

// RestartState is a snapshot of the restart bookkeeping.
type RestartState struct {
	Policy             RestartPolicy `json:"policy"`
	LastStaged         time.Time     `json:"last_staged"`
	RequestsSinceStage uint64        `json:"requests_since_stage"`
	Pending            bool          `json:"pending"`
	Reason             string        `json:"reason,omitempty"`
}

type restartState struct {
	policy     RestartPolicy
	lastStaged time.Time
	requests   uint64
	pending    bool
	reason     string
}

// SetRestartPolicy installs p and restarts its clock.
func (h *Host) SetRestartPolicy(p RestartPolicy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restart.policy = p
	h.restart.lastStaged = h.now()
	h.restart.requests = 0
}

// NoteRequest counts one request and reports whether the policy just became
// due. It returns true at most once until the pending restart is applied or
// cleared.
func (h *Host) NoteRequest() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := &h.restart
	r.requests++
	if r.pending || h.dir == "" {
		return false
	}
	due := (r.policy.RequestLimit > 0 && r.requests >= r.policy.RequestLimit) ||
		(r.policy.Interval > 0 && h.now().Sub(r.lastStaged) >= r.policy.Interval)
	if due {
		r.pending = true
		r.reason = ReasonPolicy
	}
	return due
}

// MarkCrashRestart flags a crash restart. It reports false when a restart is
// already pending.
func (h *Host) MarkCrashRestart() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.restart.pending {
		return false
	}
	h.restart.pending = true
	h.restart.reason = ReasonCrash
	return true
}

// ClearRestartPending drops the pending flag without applying anything.
func (h *Host) ClearRestartPending() {
	h.mu.Lock()
	h.restart.pending = false
	h.restart.reason = ""
	h.mu.Unlock()
}

// RestartState returns the current bookkeeping.
func (h *Host) RestartState() RestartState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return RestartState{
		Policy:             h.restart.policy,
		LastStaged:         h.restart.lastStaged,
		RequestsSinceStage: h.restart.requests,
		Pending:            h.restart.pending,
		Reason:             h.restart.reason,
	}
}

// StageRestart re-stages the remembered plugin directory with the remembered
// host context. On failure the pending flag is cleared so a later trigger can
// retry.
func (h *Host) StageRestart(reason string) (ScanReport, error) {
	h.mu.Lock()
	dir, hctx := h.dir, h.hctx
	h.mu.Unlock()
	if dir == "" {
		return ScanReport{}, ErrNoPluginDir
	}
	h.log.Info().Str("reason", reason).Str("dir", dir).Msg("restaging engine plugins")
	rep, err := h.StagePluginsFromDir(dir, hctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(rep.Staged) == 0 {
		h.restart.pending = false
		h.restart.reason = ""
		return rep, err
	}
	h.restart.lastStaged = h.now()
	h.restart.requests = 0
	h.restart.pending = true
	h.restart.reason = reason
	return rep, err
}
