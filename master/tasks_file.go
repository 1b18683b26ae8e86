package master

import (
	"encoding/binary"

	"github.com/pascaldekloe/dnp3/objects"
)

// File transfer follows group 70's File Transport model: AUTHENTICATE_FILE
// exchanges a key, OPEN_FILE returns a handle and size, a READ/WRITE loop
// moves one block at a time (the block number's top bit marks the last
// block), and CLOSE_FILE releases the handle. Only one block is ever
// in flight: the next block is requested only after the previous one's
// response is handled, trading throughput for the simplicity of reusing the
// ordinary one-request-in-flight task cycle.
const lastBlockBit = uint32(1) << 31

func encodeFileBlockRequest(handle, blockNum uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, handle)
	binary.LittleEndian.PutUint32(b[4:], blockNum)
	return b
}

func decodeFileBlock(data []byte) (handle, blockNum uint32, payload []byte, ok bool) {
	if len(data) < 8 {
		return 0, 0, nil, false
	}
	return binary.LittleEndian.Uint32(data), binary.LittleEndian.Uint32(data[4:]), data[8:], true
}

// NewAuthFileTask exchanges a username/password blob for an authentication
// key the outstation requires on a subsequent OPEN_FILE.
func NewAuthFileTask(username, password string, onKey func(key uint32, err error), onError func(TaskErrorReason, error)) Task {
	return &authFileTask{username: username, password: password, onKey: onKey, onError: onError}
}

type authFileTask struct {
	username, password string
	onKey              func(uint32, error)
	onError            func(TaskErrorReason, error)
}

func (t *authFileTask) Function() objects.FunctionCode { return objects.AuthenticateFile }

func (t *authFileTask) Write(w *objects.HeaderWriter) error {
	blob := append([]byte(t.username), 0)
	blob = append(blob, []byte(t.password)...)
	return w.WriteFreeFormat(70, 1, blob)
}

func (t *authFileTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *authFileTask) ReadTask() bool { return false }

func (t *authFileTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, FileError{Reason: FileReasonBadResponse, Task: err}
	}
	ff, ok := h.Details.(objects.FreeFormatDetails)
	if !ok || len(ff.Data) < 4 {
		return Outcome{}, FileError{Reason: FileReasonBadResponse}
	}
	if t.onKey != nil {
		t.onKey(binary.LittleEndian.Uint32(ff.Data), nil)
	}
	return Complete(), nil
}

// NewOpenFileTask opens filename for reading, chaining into the block read
// loop and finally CLOSE_FILE. onChunk is invoked with each block's payload
// in order; onDone fires once after the file closes (successfully or not).
func NewOpenFileTask(filename string, authKey uint32, onChunk func([]byte) error, onDone func(error), onError func(TaskErrorReason, error)) Task {
	return &openFileTask{filename: filename, authKey: authKey, onChunk: onChunk, onDone: onDone, onError: onError}
}

// NewWriteFileTask opens filename for writing, chaining into a WRITE block
// loop driven by nextBlock and finally CLOSE_FILE. nextBlock supplies each
// block's payload in turn; returning last=true marks the block as the
// file's final one (the block number's top bit). onDone fires once after
// the file closes (successfully or not).
func NewWriteFileTask(filename string, authKey uint32, nextBlock func() (data []byte, last bool, err error), onDone func(error), onError func(TaskErrorReason, error)) Task {
	return &openFileTask{filename: filename, authKey: authKey, write: true, nextBlock: nextBlock, onDone: onDone, onError: onError}
}

type openFileTask struct {
	filename  string
	authKey   uint32
	write     bool
	onChunk   func([]byte) error
	nextBlock func() ([]byte, bool, error)
	onDone    func(error)
	onError   func(TaskErrorReason, error)
}

func (t *openFileTask) Function() objects.FunctionCode { return objects.OpenFile }

func (t *openFileTask) Write(w *objects.HeaderWriter) error {
	blob := make([]byte, 5, 5+len(t.filename))
	binary.LittleEndian.PutUint32(blob, t.authKey)
	if t.write {
		blob[4] = 1
	}
	blob = append(blob, []byte(t.filename)...)
	return w.WriteFreeFormat(70, 3, blob)
}

func (t *openFileTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *openFileTask) ReadTask() bool { return false }

func (t *openFileTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, FileError{Reason: FileReasonBadResponse, Task: err}
	}
	ff, ok := h.Details.(objects.FreeFormatDetails)
	if !ok || len(ff.Data) < 9 {
		return Outcome{}, FileError{Reason: FileReasonBadResponse}
	}
	handle := binary.LittleEndian.Uint32(ff.Data)
	status := objects.CommandStatus(ff.Data[8])
	if !status.Ok() {
		if t.onDone != nil {
			t.onDone(FileError{Reason: FileReasonBadStatus, Status: status})
		}
		return Complete(), nil
	}
	if t.write {
		return Continue(&fileWriteBlockTask{
			handle: handle, nextBlock: t.nextBlock, onDone: t.onDone, onError: t.onError,
		}), nil
	}
	return Continue(&fileBlockTask{
		handle: handle, onChunk: t.onChunk, onDone: t.onDone, onError: t.onError,
	}), nil
}

type fileBlockTask struct {
	handle   uint32
	blockNum uint32
	onChunk  func([]byte) error
	onDone   func(error)
	onError  func(TaskErrorReason, error)
}

func (t *fileBlockTask) Function() objects.FunctionCode { return objects.Read }

func (t *fileBlockTask) Write(w *objects.HeaderWriter) error {
	return w.WriteFreeFormat(70, 6, encodeFileBlockRequest(t.handle, t.blockNum))
}

func (t *fileBlockTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *fileBlockTask) ReadTask() bool { return false }

func (t *fileBlockTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, FileError{Reason: FileReasonBadResponse, Task: err}
	}
	ff, ok := h.Details.(objects.FreeFormatDetails)
	if !ok {
		return Outcome{}, FileError{Reason: FileReasonBadResponse}
	}
	handle, rawBlockNum, payload, ok := decodeFileBlock(ff.Data)
	if !ok || handle != t.handle {
		return Outcome{}, FileError{Reason: FileReasonWrongHandle}
	}
	blockNum := rawBlockNum &^ lastBlockBit
	last := rawBlockNum&lastBlockBit != 0
	if blockNum != t.blockNum {
		return Outcome{}, FileError{Reason: FileReasonBadBlockNum}
	}
	if t.onChunk != nil {
		if err := t.onChunk(payload); err != nil {
			return Continue(&fileCloseTask{handle: t.handle, cause: err, onDone: t.onDone, onError: t.onError}), nil
		}
	}
	if last {
		return Continue(&fileCloseTask{handle: t.handle, onDone: t.onDone, onError: t.onError}), nil
	}
	t.blockNum++
	return Continue(t), nil
}

func encodeFileBlockWrite(handle, blockNum uint32, data []byte) []byte {
	b := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(b, handle)
	binary.LittleEndian.PutUint32(b[4:], blockNum)
	copy(b[8:], data)
	return b
}

// fileWriteBlockTask is NewWriteFileTask's block loop: a WRITE of group 70
// variation 6 (the same file-transport-data header the read loop uses) per
// block, advancing until nextBlock reports the last one.
type fileWriteBlockTask struct {
	handle    uint32
	blockNum  uint32
	last      bool
	nextBlock func() ([]byte, bool, error)
	onDone    func(error)
	onError   func(TaskErrorReason, error)
}

func (t *fileWriteBlockTask) Function() objects.FunctionCode { return objects.Write }

func (t *fileWriteBlockTask) Write(w *objects.HeaderWriter) error {
	data, last, err := t.nextBlock()
	if err != nil {
		return err
	}
	t.last = last
	blockNum := t.blockNum
	if last {
		blockNum |= lastBlockBit
	}
	return w.WriteFreeFormat(70, 6, encodeFileBlockWrite(t.handle, blockNum, data))
}

func (t *fileWriteBlockTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *fileWriteBlockTask) ReadTask() bool { return false }

func (t *fileWriteBlockTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	if t.last {
		return Continue(&fileCloseTask{handle: t.handle, onDone: t.onDone, onError: t.onError}), nil
	}
	t.blockNum++
	return Continue(t), nil
}

// NewGetFileInfoTask queries filename's size via GET_FILE_INFO.
func NewGetFileInfoTask(filename string, onInfo func(size uint32, err error), onError func(TaskErrorReason, error)) Task {
	return &getFileInfoTask{filename: filename, onInfo: onInfo, onError: onError}
}

type getFileInfoTask struct {
	filename string
	onInfo   func(uint32, error)
	onError  func(TaskErrorReason, error)
}

func (t *getFileInfoTask) Function() objects.FunctionCode { return objects.GetFileInfo }

func (t *getFileInfoTask) Write(w *objects.HeaderWriter) error {
	return w.WriteFreeFormat(70, 4, []byte(t.filename))
}

func (t *getFileInfoTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *getFileInfoTask) ReadTask() bool { return false }

func (t *getFileInfoTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	if err := requireNonReadComplete(resp); err != nil {
		return Outcome{}, err
	}
	h, err := resp.GetOnlyHeader()
	if err != nil {
		return Outcome{}, FileError{Reason: FileReasonBadResponse, Task: err}
	}
	ff, ok := h.Details.(objects.FreeFormatDetails)
	if !ok || len(ff.Data) < 4 {
		return Outcome{}, FileError{Reason: FileReasonBadResponse}
	}
	size := binary.LittleEndian.Uint32(ff.Data)
	if t.onInfo != nil {
		t.onInfo(size, nil)
	}
	return Complete(), nil
}

type fileCloseTask struct {
	handle  uint32
	cause   error
	onDone  func(error)
	onError func(TaskErrorReason, error)
}

func (t *fileCloseTask) Function() objects.FunctionCode { return objects.CloseFile }

func (t *fileCloseTask) Write(w *objects.HeaderWriter) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, t.handle)
	return w.WriteFreeFormat(70, 3, b)
}

func (t *fileCloseTask) OnTaskError(reason TaskErrorReason, err error) {
	if t.onError != nil {
		t.onError(reason, FileError{Reason: FileReasonTask, Task: err})
	}
}

func (t *fileCloseTask) ReadTask() bool { return false }

func (t *fileCloseTask) Handle(resp objects.ParsedFragment) (Outcome, error) {
	err := requireNonReadComplete(resp)
	if t.onDone != nil {
		if t.cause != nil {
			t.onDone(t.cause)
		} else {
			t.onDone(err)
		}
	}
	return Complete(), nil
}
