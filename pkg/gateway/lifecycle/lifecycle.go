// Package lifecycle tracks where the gateway process is in its life. The
// readiness handler reports draining so load balancers stop routing new
// calls while in-flight conversations finish.
package lifecycle

import "sync/atomic"

// Lifecycle is shared by the readiness handler and the shutdown path. The
// zero value is a running, non-draining process. Nil receivers are valid
// and always read as not draining.
type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the process into (or out of) drain mode.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

// IsDraining reports whether shutdown has begun.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
