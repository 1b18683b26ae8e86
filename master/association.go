package master

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/pascaldekloe/dnp3/link"
	"github.com/pascaldekloe/dnp3/objects"
)

// pollEntry is one entry of an association's poll map: a periodically
// repeated read request with its own handler and cadence.
type pollEntry struct {
	interval time.Duration
	next     time.Time
	build    func(w *objects.HeaderWriter) error
	handler  ReadHandler
}

// queuedRequest is one user-submitted task waiting for its turn in the
// association's backlog.
type queuedRequest struct {
	task Task
}

// Association holds all per-outstation session state: link address,
// application sequence, the auto-task vector, the poll map, the queued
// user request backlog and the three handler interfaces the application
// observes the session through.
type Association struct {
	Address link.EndpointAddress
	Config  AssociationConfig

	appSeq uint8

	auto *autoTasks

	polls      map[uint32]*pollEntry
	nextPollID uint32

	queue []queuedRequest

	readHandler  ReadHandler
	assocHandler AssociationHandler
	info         AssociationInformation

	integrityComplete bool

	haveLastUnsol bool
	lastUnsolSeq  uint8
	lastUnsolHash uint64

	keepAliveDeadline time.Time
}

// NewAssociation creates an association and demands the startup auto-task
// sequence: disable unsolicited, integrity scan, enable unsolicited. Strict
// auto-task priority runs them in that order regardless of demand order.
func NewAssociation(addr link.EndpointAddress, cfg AssociationConfig, readHandler ReadHandler, assocHandler AssociationHandler, info AssociationInformation) *Association {
	cfg.check()
	if readHandler == nil {
		readHandler = NopReadHandler{}
	}
	if assocHandler == nil {
		assocHandler = NopAssociationHandler{}
	}
	if info == nil {
		info = NopAssociationInformation{}
	}
	a := &Association{
		Address:      addr,
		Config:       cfg,
		auto:         newAutoTasks(cfg.RetryStrategy),
		polls:        make(map[uint32]*pollEntry),
		readHandler:  readHandler,
		assocHandler: assocHandler,
		info:         info,
	}
	if cfg.DisableUnsolClasses != 0 {
		a.auto.demand(autoDisableUnsolicited)
	}
	a.auto.demand(autoIntegrityScan)
	if cfg.EnableUnsolClasses != 0 {
		a.auto.demand(autoEnableUnsolicited)
	}
	return a
}

// NextAppSeq returns the next application sequence number (mod 16) and
// advances the counter.
func (a *Association) NextAppSeq() uint8 {
	seq := a.appSeq & 0x0f
	a.appSeq = (a.appSeq + 1) & 0x0f
	return seq
}

// HandleIIN reacts to a response's Internal Indications, demanding whatever
// auto tasks the bits call for.
func (a *Association) HandleIIN(iin objects.IIN) {
	if iin.DeviceRestart() && a.auto.slots[autoClearRestartIIN].status == autoIdle {
		a.auto.demand(autoClearRestartIIN)
		a.integrityComplete = false
		a.auto.demand(autoIntegrityScan)
		if a.Config.EnableUnsolClasses != 0 {
			a.auto.demand(autoEnableUnsolicited)
		}
		a.assocHandler.OutstationRestarted()
	}
	if iin.NeedTime() && a.Config.AutoTimeSync != NoTimeSync {
		a.auto.demand(autoTimeSync)
	}
	if iin.EventBufferOverflow() && a.Config.AutoIntegrityOnBufferOverflow {
		a.auto.demand(autoIntegrityScan)
	}
	if classes := EventClasses(iin.ClassEvents()) & a.Config.EventScanOnEvents; classes != 0 {
		a.auto.demand(autoEventScan)
	}
}

// NextAutoTask returns the Task for the highest-priority auto task due to
// run at now, or ok=false if none is.
func (a *Association) NextAutoTask(now time.Time) (task Task, kind autoTaskKind, ok bool) {
	k, ok := a.auto.next(now)
	if !ok {
		return nil, 0, false
	}
	switch k {
	case autoClearRestartIIN:
		return NewClearRestartTask(a.autoTaskErrorHandler(k)), k, true
	case autoDisableUnsolicited:
		return NewDisableUnsolicitedTask(a.Config.DisableUnsolClasses, a.autoTaskErrorHandler(k)), k, true
	case autoIntegrityScan:
		return NewStartupIntegrityTask(a.Config.StartupIntegrityClasses, a.integrityReadHandler(), a.autoTaskErrorHandler(k)), k, true
	case autoTimeSync:
		return NewTimeSyncTask(a.Config.AutoTimeSync, time.Now, a.timeSyncDoneHandler(), a.autoTaskErrorHandler(k)), k, true
	case autoEnableUnsolicited:
		return NewEnableUnsolicitedTask(a.Config.EnableUnsolClasses, a.autoTaskErrorHandler(k)), k, true
	case autoEventScan:
		return NewEventScanTask(a.Config.EventScanOnEvents, a.readHandler, a.autoTaskErrorHandler(k)), k, true
	default:
		return nil, 0, false
	}
}

// NextWake reports the earliest Failed auto task's retry time, for the
// scheduler's idle-wait bound.
func (a *Association) NextWake() (time.Time, bool) { return a.auto.nextWake() }

func (a *Association) autoTaskErrorHandler(kind autoTaskKind) func(TaskErrorReason, error) {
	return func(reason TaskErrorReason, err error) {
		a.auto.failure(kind, time.Now())
		a.info.TaskFailure(0, reason, err)
	}
}

func (a *Association) integrityReadHandler() ReadHandler {
	return integrityHandler{assoc: a, inner: a.readHandler}
}

// integrityHandler wraps the configured ReadHandler to mark the
// integrity-scan auto task done and the association integrity-complete at
// the end of each response fragment it delivers; for a multi-fragment
// response that happens at the end of the first fragment, not only the last.
type integrityHandler struct {
	assoc *Association
	inner ReadHandler
}

func (h integrityHandler) BeginFragment() { h.inner.BeginFragment() }
func (h integrityHandler) Headers(headers []objects.ObjectHeader) {
	h.inner.Headers(headers)
}
func (h integrityHandler) EndFragment() {
	h.inner.EndFragment()
	h.assoc.auto.done(autoIntegrityScan)
	h.assoc.integrityComplete = true
}

func (a *Association) timeSyncDoneHandler() func(error) {
	return func(err error) {
		if err == nil {
			a.auto.done(autoTimeSync)
		} else {
			a.auto.failure(autoTimeSync, time.Now())
		}
	}
}

// MarkAutoTaskDone is called by the scheduler whenever an auto task
// completes without error, including those (integrity scan, time sync) that
// also mark themselves done through their own handlers.
func (a *Association) MarkAutoTaskDone(kind autoTaskKind) { a.auto.done(kind) }

// Enqueue appends a user-submitted task to the backlog, applying
// backpressure once MaxQueuedUserRequests is reached.
func (a *Association) Enqueue(task Task) error {
	if len(a.queue) >= a.Config.MaxQueuedUserRequests {
		return ErrTooManyRequests
	}
	a.queue = append(a.queue, queuedRequest{task: task})
	return nil
}

// DrainQueue removes and returns every queued user task, in submission
// order, so the caller can fail each one (e.g. with Shutdown) instead of
// leaving it stranded in the backlog.
func (a *Association) DrainQueue() []Task {
	tasks := make([]Task, len(a.queue))
	for i, q := range a.queue {
		tasks[i] = q.task
	}
	a.queue = nil
	return tasks
}

// NextUserTask pops the oldest queued user task, if any.
func (a *Association) NextUserTask() (Task, bool) {
	if len(a.queue) == 0 {
		return nil, false
	}
	t := a.queue[0].task
	a.queue = a.queue[1:]
	return t, true
}

// AddPoll registers a periodic read request and returns its id.
func (a *Association) AddPoll(interval time.Duration, build func(w *objects.HeaderWriter) error, handler ReadHandler) uint32 {
	a.nextPollID++
	id := a.nextPollID
	a.polls[id] = &pollEntry{interval: interval, next: time.Now().Add(interval), build: build, handler: handler}
	return id
}

// RemovePoll unregisters a poll by id.
func (a *Association) RemovePoll(id uint32) { delete(a.polls, id) }

// NextDuePoll returns the Task for the earliest poll entry due at or before
// now, advancing its next-due time.
func (a *Association) NextDuePoll(now time.Time) (Task, bool) {
	var dueID uint32
	var due *pollEntry
	for id, p := range a.polls {
		if !now.Before(p.next) && (due == nil || p.next.Before(due.next)) {
			dueID, due = id, p
		}
	}
	if due == nil {
		return nil, false
	}
	due.next = now.Add(due.interval)
	_ = dueID
	return NewPeriodicPollTask(due.build, due.handler, nil), true
}

// AcceptUnsolicited decides whether an unsolicited response fragment should
// be processed: rejected until the startup integrity scan completes (except
// a null response, which carries no headers and only confirms link
// liveness), and deduplicated against the last-seen (sequence, content
// hash) pair since a retransmission must not be re-applied.
func (a *Association) AcceptUnsolicited(f objects.ParsedFragment) bool {
	if !a.integrityComplete && len(f.Headers) != 0 {
		return false
	}
	h := hashHeaders(f.Headers)
	if a.haveLastUnsol && f.Control.Seq == a.lastUnsolSeq && h == a.lastUnsolHash {
		return false
	}
	a.haveLastUnsol = true
	a.lastUnsolSeq = f.Control.Seq
	a.lastUnsolHash = h
	return true
}

func hashHeaders(headers []objects.ObjectHeader) uint64 {
	d := xxhash.New()
	for _, h := range headers {
		d.Write([]byte{h.Group, h.Variation, byte(h.Qualifier)})
		switch v := h.Details.(type) {
		case objects.RangeDetails:
			d.Write(v.Data)
		case objects.CountDetails:
			d.Write(v.Data)
		case objects.CountAndPrefixDetails:
			d.Write(v.Raw)
		case objects.FreeFormatDetails:
			d.Write(v.Data)
		}
	}
	return d.Sum64()
}

// TouchKeepAlive resets the link-status keepalive deadline after any link
// activity.
func (a *Association) TouchKeepAlive(now time.Time) {
	if a.Config.KeepAliveTimeout > 0 {
		a.keepAliveDeadline = now.Add(a.Config.KeepAliveTimeout)
	}
}

// KeepAliveDue reports whether the keepalive deadline has passed.
func (a *Association) KeepAliveDue(now time.Time) bool {
	return a.Config.KeepAliveTimeout > 0 && !a.keepAliveDeadline.IsZero() && !now.Before(a.keepAliveDeadline)
}

// KeepAliveDeadline returns the time the link-status keepalive next comes
// due, used to pick the nearest one across associations.
func (a *Association) KeepAliveDeadline() time.Time { return a.keepAliveDeadline }
