package session

import "sync/atomic"

// Arbiter gates terminal writes for one session. The channel and the poller
// can both deliver the completion; only the first one is admitted and every
// status input after it is discarded.
type Arbiter struct {
	settled   atomic.Bool
	discarded atomic.Int64
}

// Admit reports whether in may be reduced against s.
func (a *Arbiter) Admit(s State, in Input) bool {
	if _, ok := in.(StatusInput); !ok {
		return true
	}
	if s.HasFinalReport || a.settled.Load() {
		a.discarded.Add(1)
		return false
	}
	return true
}

// Settle records a reduction. It returns true exactly once: for the
// reduction that set HasFinalReport.
func (a *Arbiter) Settle(prev, next State) bool {
	if prev.HasFinalReport || !next.HasFinalReport {
		return false
	}
	return a.settled.CompareAndSwap(false, true)
}

// Settled reports whether the terminal transition has been applied.
func (a *Arbiter) Settled() bool {
	return a.settled.Load()
}

// Discarded is the number of status inputs dropped after settlement.
func (a *Arbiter) Discarded() int64 {
	return a.discarded.Load()
}
