package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context, inst *Instance) (func(), error) {
	m.mu.RLock()
	draining := inst.State == StateDraining
	m.mu.RUnlock()
	// If draining, reject new work to allow graceful unload
	if draining {
		admissionRejections.WithLabelValues("draining").Inc()
		return func() {}, tooBusyError{modelID: inst.ID}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		admissionRejections.WithLabelValues("queue").Inc()
		return func() {}, tooBusyError{modelID: inst.ID}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case inst.genCh <- struct{}{}:
		acquired = true
		m.mu.Lock()
		inst.LastUsed = m.now()
		m.mu.Unlock()
		return func() { <-inst.genCh; <-inst.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		admissionRejections.WithLabelValues("queue").Inc()
		return func() {}, tooBusyError{modelID: inst.ID}
	}
}
