// Package provision implements the deployment pipeline: the single-flight
// lock, the external worker client, subprocess execution for the diff and
// commit phases, and the orchestrator tying them to the provision set state
// machine.
package provision

import "sync/atomic"

// lockReserved marks the window between winning the lock and knowing the
// provision set id.
const lockReserved = -1

// Lock is the process-wide single-flight provisioning guard. Acquisition
// never blocks; a second caller gets an immediate refusal. The persisted
// counterpart is the partial unique index on RUNNING provision sets, which
// extends the guarantee across processes.
type Lock struct {
	// holder is the provision set id currently deploying, zero when free.
	holder atomic.Int64
}

// NewLock creates a free lock.
func NewLock() *Lock {
	return &Lock{}
}

// TryAcquire attempts to take the lock. Returns false immediately when
// another deploy holds it. The winner binds the provision set id once the
// row exists.
func (l *Lock) TryAcquire() bool {
	return l.holder.CompareAndSwap(0, lockReserved)
}

// Bind records which provision set holds the lock. Only the acquiring
// deploy calls this.
func (l *Lock) Bind(provisionSetID int64) {
	l.holder.Store(provisionSetID)
}

// Release frees the lock.
func (l *Lock) Release() {
	l.holder.Store(0)
}

// Holder returns the provision set currently holding the lock, zero when
// free.
func (l *Lock) Holder() int64 {
	return l.holder.Load()
}
