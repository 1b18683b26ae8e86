package master

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// autoTaskKind names one of the six auto-task slots, in the strict priority
// order the scheduler evaluates them: a clear-restart demand always wins
// over a pending integrity scan, which always wins over a time sync, and so
// on down to the lowest-priority event scan.
type autoTaskKind int

const (
	autoClearRestartIIN autoTaskKind = iota
	autoDisableUnsolicited
	autoIntegrityScan
	autoTimeSync
	autoEnableUnsolicited
	autoEventScan
	numAutoTasks
)

func (k autoTaskKind) String() string {
	switch k {
	case autoClearRestartIIN:
		return "clear-restart-iin"
	case autoDisableUnsolicited:
		return "disable-unsolicited"
	case autoIntegrityScan:
		return "integrity-scan"
	case autoTimeSync:
		return "time-sync"
	case autoEnableUnsolicited:
		return "enable-unsolicited"
	case autoEventScan:
		return "event-scan"
	default:
		return "auto-task<?>"
	}
}

type autoTaskStatus int

const (
	autoIdle autoTaskStatus = iota
	autoPending
	autoFailed
)

// autoTaskSlot is one entry of the auto-task vector: Idle | Pending |
// Failed(backoff, wake_at).
type autoTaskSlot struct {
	status autoTaskStatus
	bo     backoff.BackOff
	wakeAt time.Time
}

// autoTasks is the association's 6-slot auto-task vector.
type autoTasks struct {
	slots [numAutoTasks]autoTaskSlot
	retry RetryStrategy
}

func newAutoTasks(retry RetryStrategy) *autoTasks {
	return &autoTasks{retry: retry}
}

func (a *autoTasks) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.MinDelay
	b.MaxInterval = a.retry.MaxDelay
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()
	return b
}

// demand marks kind as wanting to run. A task already Pending or Failed is
// left alone: demanding an already-demanded task must not reset its
// back-off.
func (a *autoTasks) demand(kind autoTaskKind) {
	s := &a.slots[kind]
	if s.status == autoIdle {
		s.status = autoPending
	}
}

// done marks kind as satisfied, returning it to Idle.
func (a *autoTasks) done(kind autoTaskKind) {
	a.slots[kind] = autoTaskSlot{status: autoIdle}
}

// failure transitions kind to Failed, scheduling its next attempt through
// the exponential back-off policy.
func (a *autoTasks) failure(kind autoTaskKind, now time.Time) {
	s := &a.slots[kind]
	if s.bo == nil {
		s.bo = a.newBackOff()
	}
	s.status = autoFailed
	s.wakeAt = now.Add(s.bo.NextBackOff())
}

// next ready returns the highest-priority auto task due to run at now, or
// ok=false if none is.
func (a *autoTasks) next(now time.Time) (kind autoTaskKind, ok bool) {
	for k := autoTaskKind(0); k < numAutoTasks; k++ {
		s := &a.slots[k]
		switch s.status {
		case autoPending:
			return k, true
		case autoFailed:
			if !now.Before(s.wakeAt) {
				return k, true
			}
		}
	}
	return 0, false
}

// nextWake returns the earliest wake_at among Failed slots, used by the
// scheduler to bound its idle wait. ok is false when nothing is Failed.
func (a *autoTasks) nextWake() (t time.Time, ok bool) {
	for k := range a.slots {
		s := &a.slots[k]
		if s.status == autoFailed && (!ok || s.wakeAt.Before(t)) {
			t, ok = s.wakeAt, true
		}
	}
	return t, ok
}
