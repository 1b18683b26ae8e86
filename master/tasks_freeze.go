package master

import "github.com/pascaldekloe/dnp3/objects"

// FreezeKind selects which freeze function code a freeze task issues.
type FreezeKind int

const (
	FreezeImmediate FreezeKind = iota
	FreezeAndClear
)

// NewFreezeTask builds the supplemental counter-freeze task: an
// IMMEDIATE_FREEZE or FREEZE_CLEAR request with one all-objects header for
// the given counter group (typically group 20).
func NewFreezeTask(kind FreezeKind, group, variation byte, onError func(TaskErrorReason, error)) Task {
	function := objects.ImmediateFreeze
	if kind == FreezeAndClear {
		function = objects.FreezeClear
	}
	return &nonReadTask{
		function: function,
		build:    func(w *objects.HeaderWriter) error { return w.WriteAllObjects(group, variation) },
		onError:  onError,
	}
}
