package master

import (
	"encoding/binary"
	"time"

	"github.com/pascaldekloe/dnp3/objects"
)

// RestartKind selects cold or warm restart.
type RestartKind int

const (
	ColdRestart RestartKind = iota
	WarmRestart
)

// restartTask issues a restart request and reports the outstation's
// estimated time-to-completion, carried in a single group 52 time-delay
// object (variation 1 coarse, seconds; variation 2 fine, milliseconds).
type restartTask struct {
	kind    RestartKind
	onDone  func(time.Duration, error)
	onError func(TaskErrorReason, error)
}

// NewRestartTask builds a user-initiated cold or warm restart task.
func NewRestartTask(kind RestartKind, onDone func(time.Duration, error), onError func(TaskErrorReason, error)) Task {
	return &restartTask{kind: kind, onDone: onDone, onError: onError}
}

func (t *restartTask) Function() objects.FunctionCode {
	if t.kind == WarmRestart {
		return objects.WarmRestart
	}
	return objects.ColdRestart
}

func (t *restartTask) Write(w *objects.HeaderWriter) error { return nil }

func (t *restartTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, err)
	}
}

func (t *restartTask) ReadTask() bool { return false }

func (t *restartTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		if t.onDone != nil {
			t.onDone(0, err)
		}
		return Complete(), nil
	}
	cd, ok := h.Details.(objects.CountDetails)
	if !ok || len(cd.Data) < 2 {
		if t.onDone != nil {
			t.onDone(0, objects.ErrFragmentTooShort)
		}
		return Complete(), nil
	}
	value := binary.LittleEndian.Uint16(cd.Data)
	delay := time.Duration(value) * time.Millisecond
	if h.Variation == 1 {
		delay = time.Duration(value) * time.Second
	}
	if t.onDone != nil {
		t.onDone(delay, nil)
	}
	return Complete(), nil
}
