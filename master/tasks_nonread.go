package master

import "github.com/pascaldekloe/dnp3/objects"

// nonReadTask is the shared shape of every task whose response must be a
// single FIR+FIN fragment: clear-restart, enable/disable unsolicited,
// assign-class and the generic empty-response task.
type nonReadTask struct {
	function     objects.FunctionCode
	build        func(w *objects.HeaderWriter) error
	onError      func(TaskErrorReason, error)
	wrapComplete func() error // set by no constructor; Handle does not call it
}

func (t *nonReadTask) Function() objects.FunctionCode { return t.function }

func (t *nonReadTask) Write(w *objects.HeaderWriter) error { return t.build(w) }

func (t *nonReadTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, err)
	}
}

func (t *nonReadTask) ReadTask() bool { return false }

func (t *nonReadTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	return Complete(), nil
}

// NewClearRestartTask builds the auto task that clears the outstation's
// device_restart IIN bit (group 80 variation 1).
func NewClearRestartTask(onError func(TaskErrorReason, error)) Task {
	return &nonReadTask{
		function: objects.Write,
		build:    func(w *objects.HeaderWriter) error { return w.WriteClearRestart() },
		onError:  onError,
	}
}

// NewEnableUnsolicitedTask and NewDisableUnsolicitedTask build the auto
// tasks that toggle unsolicited reporting for the given event classes.
func NewEnableUnsolicitedTask(classes EventClasses, onError func(TaskErrorReason, error)) Task {
	return &nonReadTask{
		function: objects.EnableUnsolicited,
		build:    func(w *objects.HeaderWriter) error { return writeEventClasses(w, classes) },
		onError:  onError,
	}
}

func NewDisableUnsolicitedTask(classes EventClasses, onError func(TaskErrorReason, error)) Task {
	return &nonReadTask{
		function: objects.DisableUnsolicited,
		build:    func(w *objects.HeaderWriter) error { return writeEventClasses(w, classes) },
		onError:  onError,
	}
}

// AssignClassEntry names a point group/variation and the event class it
// should report under. Start and Stop are not encoded: each entry is sent
// as one class header of count one whose object bytes are the group and
// variation, so an assignment covers no index range.
type AssignClassEntry struct {
	Group, Variation byte
	Start, Stop      uint16
	Class            EventClasses
}

// NewAssignClassTask builds the supplemental assign-class task: an
// ASSIGN_CLASS fragment of group 60-style class-assignment headers. It
// exists outside the standard profile but is commonly supported by
// outstations for dynamic point-to-class binding.
func NewAssignClassTask(entries []AssignClassEntry, onError func(TaskErrorReason, error)) Task {
	return &nonReadTask{
		function: objects.AssignClass,
		build: func(w *objects.HeaderWriter) error {
			for _, e := range entries {
				var classGroup, classVariation byte = 60, 1 // class objects group; variation 1 is class 0
				switch {
				case e.Class&Class1 != 0:
					classVariation = 2
				case e.Class&Class2 != 0:
					classVariation = 3
				case e.Class&Class3 != 0:
					classVariation = 4
				}
				if err := w.WriteCountOfOne(classGroup, classVariation, []byte{e.Group, e.Variation}); err != nil {
					return err
				}
			}
			return nil
		},
		onError: func(reason TaskErrorReason, err error) {
			if onError != nil {
				onError(reason, AssignClassError{Task: err})
			}
		},
	}
}

// NewEmptyResponseTask builds a task whose response must carry zero object
// headers in addition to the ordinary non-read completion rule; used by
// restart-confirmation-style requests where any returned header signals a
// malformed outstation reply.
func NewEmptyResponseTask(function objects.FunctionCode, build func(w *objects.HeaderWriter) error, onError func(TaskErrorReason, error)) Task {
	return &emptyResponseTask{nonReadTask{function: function, build: build, onError: onError}}
}

type emptyResponseTask struct{ nonReadTask }

func (t *emptyResponseTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	if len(resp.Headers) != 0 {
		return Outcome{}, objects.UnexpectedHeaders{Count: len(resp.Headers)}
	}
	return Complete(), nil
}
