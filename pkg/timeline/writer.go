package timeline

import (
	"debug/elf"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Budget accounts for the bytes written to a trace directory.
type Budget interface {
	// Reserve claims n bytes. It returns false once the budget is exhausted.
	Reserve(n int64) bool
}

const defaultFlushSize = 1 << 20

type WriterOptions struct {
	Pid           int
	Machine       elf.Machine
	CompressLevel int
	Budget        Budget
	// FlushSize is the staged byte count that triggers a write to disk.
	FlushSize int
}

// Writer appends events to a context file.
type Writer struct {
	file      *os.File
	path      string
	opts      WriterOptions
	comp      *compressor
	arena     *Arena
	offset    int64 // file offset of the first staged byte
	count     int
	exhausted bool
}

// Create starts a new context file at path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	if opts.FlushSize <= 0 {
		opts.FlushSize = defaultFlushSize
	}

	comp, err := newCompressor(opts.CompressLevel)
	if err != nil {
		return nil, errors.Wrap(err, "timeline.Create")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		comp.close()
		return nil, errors.Wrap(err, "timeline.Create")
	}

	hdr := fileHeader{
		Magic:    contextMagic,
		Version:  formatVersion,
		Machine:  opts.Machine,
		Compress: uint16(opts.CompressLevel),
		Pid:      int32(opts.Pid),
	}

	w := &Writer{
		file:  file,
		path:  path,
		opts:  opts,
		comp:  comp,
		arena: NewArena(opts.FlushSize + opts.FlushSize/4),
	}

	if !w.reserve(fileHeaderSize) {
		file.Close()
		comp.close()
		return nil, ErrBudgetExhausted
	}

	w.arena.Append(hdr.encode())
	return w, nil
}

func (w *Writer) reserve(n int64) bool {
	if w.exhausted {
		return false
	}

	if w.opts.Budget != nil && !w.opts.Budget.Reserve(n) {
		w.exhausted = true
		return false
	}

	return true
}

// Append stores one event and returns its index. When the byte budget
// runs out the event is dropped and ErrBudgetExhausted is returned; the
// file stays valid up to the previous event.
func (w *Writer) Append(e EventEntry, extra *ExtraInfo) (int, error) {
	if w.file == nil {
		return -1, ErrClosed
	}

	result, extended := storedResult(e.Result)
	if extended {
		if extra == nil {
			extra = &ExtraInfo{}
		}

		full := e.Result
		extra.ExtResult = &full
	}

	var raw []byte
	if !extra.Empty() {
		var err error
		if raw, err = marshal(extra); err != nil {
			return -1, errors.Wrap(err, "timeline.Writer.Append")
		}
	}

	blob, codec := raw, CompressionNone
	if len(raw) > 0 {
		blob, codec = w.comp.compress(raw)
	}

	hdr := recordHeader{
		Type:      e.Type,
		ThreadNum: e.ThreadNum,
		Tid:       e.Tid,
		Result:    result,
		Codec:     codec,
		RawLen:    uint32(len(raw)),
		DataLen:   uint32(len(blob)),
	}
	if extended {
		hdr.Flags |= flagExtendedResult
	}

	if !w.reserve(int64(recordHeaderSize + len(blob))) {
		return -1, ErrBudgetExhausted
	}

	w.arena.Append(hdr.encode(blob), blob)
	w.count++

	if w.arena.Len() >= w.opts.FlushSize {
		if err := w.Flush(); err != nil {
			return w.count - 1, err
		}
	}

	return w.count - 1, nil
}

// Count is the number of appended events.
func (w *Writer) Count() int {
	return w.count
}

// Size is the number of bytes written or staged.
func (w *Writer) Size() int64 {
	return w.offset + int64(w.arena.Len())
}

func (w *Writer) Exhausted() bool {
	return w.exhausted
}

func (w *Writer) Flush() error {
	if w.file == nil {
		return ErrClosed
	}

	if w.arena.Len() == 0 {
		return nil
	}

	n, err := w.file.Write(w.arena.Bytes())
	w.offset += int64(n)
	w.arena.Reset()
	if err != nil {
		return errors.Wrap(err, "timeline.Writer.Flush")
	}

	return nil
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	ferr := w.Flush()
	if err := w.file.Close(); err != nil && ferr == nil {
		ferr = err
	}

	log.Debugf("timeline.Writer.Close(%s): events=%d bytes=%d", w.path, w.count, w.offset)

	w.file = nil
	w.comp.close()
	return ferr
}
