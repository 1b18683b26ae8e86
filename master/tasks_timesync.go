package master

import (
	"encoding/binary"
	"time"

	"github.com/pascaldekloe/dnp3/objects"
)

func encodeAbsoluteTime(t time.Time) []byte {
	b := make([]byte, 6)
	ms := uint64(t.UnixMilli())
	b[0] = byte(ms)
	b[1] = byte(ms >> 8)
	b[2] = byte(ms >> 16)
	b[3] = byte(ms >> 24)
	b[4] = byte(ms >> 32)
	b[5] = byte(ms >> 40)
	return b
}

// timeSyncTask drives the LAN or non-LAN time synchronization procedure
// named by AssociationConfig.AutoTimeSync.
//
// LAN sends RecordCurrentTime, capturing the tx timestamp at the moment the
// request leaves; on response it follows up with a Write of that captured
// timestamp (group 50 variation 3), so the outstation's clock is set from
// the instant the request was sent rather than whenever the response
// happens to arrive. One round trip's uncertainty is assumed negligible on
// a LAN, which is why no propagation delay is estimated or added.
//
// Non-LAN first measures the outstation's own processing delay (group 52
// variation 2, milliseconds) via DELAY_MEASURE, halves the remaining round
// trip after subtracting that delay, and writes a time advanced by that
// estimated one-way propagation delay.
type timeSyncTask struct {
	procedure   TimeSyncProcedure
	now         func() time.Time
	rtt         time.Duration
	txTimestamp time.Time
	onDone      func(error)
	onError     func(TaskErrorReason, error)
}

// NewTimeSyncTask builds the auto task demanded when IIN reports
// need_time, or the user requests a manual resync.
func NewTimeSyncTask(procedure TimeSyncProcedure, now func() time.Time, onDone func(error), onError func(TaskErrorReason, error)) Task {
	if now == nil {
		now = time.Now
	}
	return &timeSyncTask{procedure: procedure, now: now, onDone: onDone, onError: onError}
}

func (t *timeSyncTask) Function() objects.FunctionCode {
	if t.procedure == NonLAN {
		return objects.DelayMeasure
	}
	return objects.RecordCurrentTime
}

func (t *timeSyncTask) Write(w *objects.HeaderWriter) error {
	if t.procedure == NonLAN {
		return nil // DELAY_MEASURE carries no object headers
	}
	t.txTimestamp = t.now() // captured as the request is being built, just before it's sent
	return nil              // RECORD_CURRENT_TIME carries no object headers
}

func (t *timeSyncTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, TimeSyncError{Reason: TimeSyncReasonTask, Task: err})
	}
}

func (t *timeSyncTask) ReadTask() bool { return false }

func (t *timeSyncTask) RecordRoundTrip(rtt time.Duration) { t.rtt = rtt }

func (t *timeSyncTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}

	if t.procedure != NonLAN {
		return Continue(&writeTimeTask{
			at:        t.txTimestamp,
			variation: 3,
			onDone:    t.onDone,
			onError:   t.onError,
		}), nil
	}

	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, TimeSyncError{Reason: TimeSyncReasonTask, Task: err}
	}
	cd, ok := h.Details.(objects.CountDetails)
	if !ok || len(cd.Data) < 2 {
		return Outcome{}, TimeSyncError{Reason: TimeSyncReasonTask, Task: objects.ErrFragmentTooShort}
	}
	outstationDelayMs := int64(binary.LittleEndian.Uint16(cd.Data))

	rttMs := t.rtt.Milliseconds()
	if outstationDelayMs > rttMs {
		err := TimeSyncError{Reason: TimeSyncReasonBadOutstationDelay, OutstationMs: outstationDelayMs}
		if t.onDone != nil {
			t.onDone(err)
		}
		return Complete(), nil
	}
	propagation := time.Duration(rttMs-outstationDelayMs) * time.Millisecond / 2

	return Continue(&writeTimeTask{
		at:        t.now().Add(propagation),
		variation: 1,
		onDone:    t.onDone,
		onError:   t.onError,
	}), nil
}

// writeTimeTask is time sync's second phase: writing an absolute time,
// either the propagation-delay-corrected estimate (non-LAN, group 50
// variation 1) or the tx timestamp captured before RecordCurrentTime was
// sent (LAN, group 50 variation 3).
type writeTimeTask struct {
	at        time.Time
	variation byte
	onDone    func(error)
	onError   func(TaskErrorReason, error)
}

func (t *writeTimeTask) Function() objects.FunctionCode { return objects.Write }

func (t *writeTimeTask) Write(w *objects.HeaderWriter) error {
	return w.WriteCountOfOne(50, t.variation, encodeAbsoluteTime(t.at))
}

func (t *writeTimeTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, TimeSyncError{Reason: TimeSyncReasonTask, Task: err})
	}
}

func (t *writeTimeTask) ReadTask() bool { return false }

func (t *writeTimeTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	if t.onDone != nil {
		t.onDone(nil)
	}
	return Complete(), nil
}
