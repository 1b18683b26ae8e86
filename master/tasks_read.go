package master

import "github.com/pascaldekloe/dnp3/objects"

// readTask is the shared shape behind every read-cycle task: it writes a
// caller-supplied set of object headers and forwards every response
// fragment's headers to a ReadHandler until the cycle's last fragment (the
// scheduler drives FIR/FIN/CON sequencing; Handle only needs to report the
// headers of the fragment it is given).
type readTask struct {
	build   func(w *objects.HeaderWriter) error
	handler ReadHandler
	onError func(TaskErrorReason, error)
}

func (t *readTask) Function() objects.FunctionCode { return objects.Read }

func (t *readTask) Write(w *objects.HeaderWriter) error { return t.build(w) }

func (t *readTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, err)
	}
}

func (t *readTask) ReadTask() bool { return true }

func (t *readTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if resp.IIN.Rejected() {
		return Outcome{}, RejectedByIin2{IIN: resp.IIN}
	}
	t.handler.BeginFragment()
	t.handler.Headers(resp.Headers)
	t.handler.EndFragment()
	return Complete(), nil
}

func writeClasses(w *objects.HeaderWriter, classes StartupClasses) error {
	if classes&Class0 != 0 {
		if err := w.WriteAllObjects(60, 1); err != nil {
			return err
		}
	}
	if classes&Class1Startup != 0 {
		if err := w.WriteAllObjects(60, 2); err != nil {
			return err
		}
	}
	if classes&Class2Startup != 0 {
		if err := w.WriteAllObjects(60, 3); err != nil {
			return err
		}
	}
	if classes&Class3Startup != 0 {
		if err := w.WriteAllObjects(60, 4); err != nil {
			return err
		}
	}
	return nil
}

func writeEventClasses(w *objects.HeaderWriter, classes EventClasses) error {
	if classes&Class1 != 0 {
		if err := w.WriteAllObjects(60, 2); err != nil {
			return err
		}
	}
	if classes&Class2 != 0 {
		if err := w.WriteAllObjects(60, 3); err != nil {
			return err
		}
	}
	if classes&Class3 != 0 {
		if err := w.WriteAllObjects(60, 4); err != nil {
			return err
		}
	}
	return nil
}

// NewStartupIntegrityTask builds the integrity-scan read task: one
// all-objects header (group 60) per requested startup class.
func NewStartupIntegrityTask(classes StartupClasses, handler ReadHandler, onError func(TaskErrorReason, error)) Task {
	return &readTask{
		build:   func(w *objects.HeaderWriter) error { return writeClasses(w, classes) },
		handler: handler,
		onError: onError,
	}
}

// NewEventScanTask builds the event-scan read task demanded when a response
// sets a class-event IIN bit in the association's EventScanOnEvents.
func NewEventScanTask(classes EventClasses, handler ReadHandler, onError func(TaskErrorReason, error)) Task {
	return &readTask{
		build:   func(w *objects.HeaderWriter) error { return writeEventClasses(w, classes) },
		handler: handler,
		onError: onError,
	}
}

// NewPeriodicPollTask wraps a user-defined read request (the poll map's
// stored request) into a Task.
func NewPeriodicPollTask(build func(w *objects.HeaderWriter) error, handler ReadHandler, onError func(TaskErrorReason, error)) Task {
	return &readTask{build: build, handler: handler, onError: onError}
}

// NewSingleReadTask builds a one-shot user-initiated read.
func NewSingleReadTask(build func(w *objects.HeaderWriter) error, handler ReadHandler, onError func(TaskErrorReason, error)) Task {
	return &readTask{build: build, handler: handler, onError: onError}
}
