// Package watchdog bounds the wall time of a single blocking engine call.
//
// A watchdog is armed at call entry and disarmed when the call returns. If the
// timer elapses first the terminate hook runs exactly once. The hook used in
// production exits the process: an engine stuck inside native code cannot be
// unwound safely, so the node dies and the fleet routes around it.
package watchdog

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is used when configuration does not override it.
const DefaultTimeout = 30 * time.Second

// State of a watchdog.
type State int32

const (
	Disabled State = iota
	Armed
	Disarmed
	Fired
	Terminated
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Disarmed:
		return "disarmed"
	case Fired:
		return "fired"
	case Terminated:
		return "terminated"
	}
	return "disabled"
}

// Watchdog guards one call. A nil *Watchdog behaves as disabled.
type Watchdog struct {
	state     atomic.Int32
	timer     *time.Timer
	terminate func()
}

// Arm starts a watchdog. A timeout <= 0 returns a disabled watchdog that never
// fires.
func Arm(timeout time.Duration, terminate func()) *Watchdog {
	w := &Watchdog{terminate: terminate}
	if timeout <= 0 || terminate == nil {
		return w
	}
	w.state.Store(int32(Armed))
	w.timer = time.AfterFunc(timeout, w.fire)
	return w
}

func (w *Watchdog) fire() {
	if !w.state.CompareAndSwap(int32(Armed), int32(Fired)) {
		return
	}
	w.terminate()
	w.state.Store(int32(Terminated))
}

// Disarm cancels the timer. It reports true only when it won the race against
// firing.
func (w *Watchdog) Disarm() bool {
	if w == nil {
		return false
	}
	if !w.state.CompareAndSwap(int32(Armed), int32(Disarmed)) {
		return false
	}
	w.timer.Stop()
	return true
}

// State reports the current state.
func (w *Watchdog) State() State {
	if w == nil {
		return Disabled
	}
	return State(w.state.Load())
}

// Run arms a watchdog around fn and disarms it however fn returns.
func Run[T any](timeout time.Duration, terminate func(), fn func() (T, error)) (T, error) {
	w := Arm(timeout, terminate)
	defer w.Disarm()
	return fn()
}

// DefaultTerminate returns a hook that logs at fatal level, which exits the
// process.
func DefaultTerminate(log zerolog.Logger, what string, timeout time.Duration) func() {
	return func() {
		log.Fatal().Str("call", what).Dur("timeout", timeout).Msg("watchdog timeout; terminating")
	}
}
