package master

import (
	"encoding/binary"
	"time"

	"github.com/pascaldekloe/dnp3/objects"
)

// crobSize is the wire size of a group 12 variation 1 control relay output
// block body (control + count + on-time + off-time + status), not counting
// its 1- or 2-byte address prefix.
const crobSize = 11

// ControlRelayOutputBlock is the group 12 variation 1 command object.
type ControlRelayOutputBlock struct {
	Index   uint16
	Code    objects.TripCloseCode
	Op      objects.OpType
	Queue   bool
	ClearSq bool
	Count   uint8
	OnTime  time.Duration
	OffTime time.Duration
}

func (c ControlRelayOutputBlock) encode() []byte {
	var ctrl byte
	ctrl |= byte(c.Code) << 6
	ctrl |= byte(c.Op) << 2
	if c.Queue {
		ctrl |= 1 << 4
	}
	if c.ClearSq {
		ctrl |= 1 << 5
	}
	b := make([]byte, crobSize)
	b[0] = ctrl
	b[1] = c.Count
	binary.LittleEndian.PutUint32(b[2:], uint32(c.OnTime/time.Millisecond))
	binary.LittleEndian.PutUint32(b[6:], uint32(c.OffTime/time.Millisecond))
	b[10] = byte(objects.StatusSuccess)
	return b
}

// CommandMode selects between the two-step select/operate sequence and a
// single direct-operate request.
type CommandMode int

const (
	DirectOperate CommandMode = iota
	SelectBeforeOperate
)

// commandTask drives a CROB command through direct-operate or
// select-before-operate, verifying the outstation's echo at each step.
type commandTask struct {
	mode    CommandMode
	items   []ControlRelayOutputBlock
	phase   int // 0: select (SBO) or the single direct-operate step; 1: operate after a successful select
	onDone  func(error)
	onError func(TaskErrorReason, error)
}

// NewCommandTask builds a command task for one or more CROB points.
func NewCommandTask(mode CommandMode, items []ControlRelayOutputBlock, onDone func(error), onError func(TaskErrorReason, error)) Task {
	return &commandTask{mode: mode, items: items, onDone: onDone, onError: onError}
}

func (t *commandTask) Function() objects.FunctionCode {
	if t.mode == SelectBeforeOperate && t.phase == 0 {
		return objects.Select
	}
	if t.mode == SelectBeforeOperate {
		return objects.Operate
	}
	return objects.DirectOperate
}

func (t *commandTask) Write(w *objects.HeaderWriter) error {
	prefixed := make([]objects.PrefixedItem, len(t.items))
	for i, c := range t.items {
		prefixed[i] = objects.PrefixedItem{Prefix: uint32(c.Index), Data: c.encode()}
	}
	return w.WritePrefixedItems(12, 1, prefixed)
}

func (t *commandTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, CommandError{Reason: CommandReasonTask, Task: err})
	}
}

func (t *commandTask) ReadTask() bool { return false }

func (t *commandTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, CommandError{Reason: CommandReasonHeaderCountMismatch, Task: err}
	}
	cp, ok := h.Details.(objects.CountAndPrefixDetails)
	if !ok {
		return Outcome{}, CommandError{Reason: CommandReasonHeaderTypeMismatch}
	}
	if int(cp.Count) != len(t.items) {
		return Outcome{}, CommandError{Reason: CommandReasonObjectCountMismatch}
	}
	prefixSize := 1
	if h.Qualifier == objects.CountAndPrefix16 {
		prefixSize = 2
	}
	echoed, err := objects.SplitPrefixedItems(cp.Count, prefixSize, crobSize, cp.Raw)
	if err != nil {
		return Outcome{}, CommandError{Reason: CommandReasonObjectCountMismatch, Task: err}
	}
	for i, it := range echoed {
		if uint32(t.items[i].Index) != it.Prefix {
			return Outcome{}, CommandError{Reason: CommandReasonObjectValueMismatch}
		}
		status := objects.CommandStatus(it.Data[len(it.Data)-1])
		if !status.Ok() {
			if t.onDone != nil {
				t.onDone(CommandError{Reason: CommandReasonBadStatus, Status: status})
			}
			return Complete(), nil
		}
	}

	if t.mode == SelectBeforeOperate && t.phase == 0 {
		t.phase = 1
		return Continue(t), nil
	}
	if t.onDone != nil {
		t.onDone(nil)
	}
	return Complete(), nil
}
