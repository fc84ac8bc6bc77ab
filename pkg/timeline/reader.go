package timeline

import (
	"bufio"
	"debug/elf"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Timeline is a read-only view of one recorded process.
type Timeline struct {
	Pid           int
	Machine       elf.Machine
	CompressLevel int
	Maps          []MapsSnapshot
	ExecPath      string

	ctx    *os.File
	events []EventEntry
	// Truncated is set when a damaged or incomplete tail record was dropped.
	Truncated bool
}

// Open loads the event index of contextPath and the snapshots of mapsPath.
// mapsPath may be empty.
func Open(mapsPath, contextPath string) (*Timeline, error) {
	file, err := os.Open(contextPath)
	if err != nil {
		return nil, errors.Wrap(err, "timeline.Open")
	}

	tl := &Timeline{ctx: file}
	if err := tl.scan(); err != nil {
		file.Close()
		return nil, errors.Wrap(err, contextPath)
	}

	if mapsPath != "" {
		snaps, _, err := ReadMaps(mapsPath)
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				file.Close()
				return nil, err
			}

			log.Debugf("timeline.Open: no maps file %s", mapsPath)
		}

		tl.Maps = snaps
	}

	return tl, nil
}

// OpenDir opens the files of pid inside a trace directory.
func OpenDir(dir string, pid int) (*Timeline, error) {
	tl, err := Open(filepath.Join(dir, MapsFileName(pid)), filepath.Join(dir, ContextFileName(pid)))
	if err != nil {
		return nil, err
	}

	if exe, err := ReadExecFile(dir, pid); err == nil {
		tl.ExecPath = exe
	}

	return tl, nil
}

func (t *Timeline) scan() error {
	reader := bufio.NewReaderSize(t.ctx, 1<<20)

	hbuf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(reader, hbuf); err != nil {
		return ErrBadMagic
	}

	hdr, err := decodeFileHeader(hbuf, contextMagic)
	if err != nil {
		return err
	}

	t.Pid = int(hdr.Pid)
	t.Machine = hdr.Machine
	t.CompressLevel = int(hdr.Compress)

	info, err := t.ctx.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	offset := int64(fileHeaderSize)
	rbuf := make([]byte, recordHeaderSize)
	var blob []byte
	for {
		if _, err := io.ReadFull(reader, rbuf); err != nil {
			if err != io.EOF {
				t.Truncated = true
			}
			return nil
		}

		rec := decodeRecordHeader(rbuf)
		if int64(rec.DataLen) > size-offset-recordHeaderSize {
			log.Warnf("timeline: event %d (offset %d) runs past the end of the file, dropping it", len(t.events), offset)
			t.Truncated = true
			return nil
		}

		if cap(blob) < int(rec.DataLen) {
			blob = make([]byte, rec.DataLen)
		}
		blob = blob[:rec.DataLen]

		if _, err := io.ReadFull(reader, blob); err != nil {
			t.Truncated = true
			return nil
		}

		if recordChecksum(rbuf[:checksumOffset], blob) != rec.Checksum {
			log.Warnf("timeline: checksum mismatch at event %d (offset %d), dropping the rest", len(t.events), offset)
			t.Truncated = true
			return nil
		}

		e := EventEntry{
			Type:        rec.Type,
			ThreadNum:   rec.ThreadNum,
			Tid:         rec.Tid,
			Result:      int64(rec.Result),
			ExtraOffset: offset + recordHeaderSize,
			ExtraSize:   rec.DataLen,
			RawSize:     rec.RawLen,
			codec:       rec.Codec,
			flags:       rec.Flags,
		}

		if rec.Flags&flagExtendedResult != 0 {
			raw, err := decompress(blob, rec.Codec, int(rec.RawLen))
			if err != nil {
				return errors.Wrapf(err, "event %d", len(t.events))
			}

			x, err := DecodeExtraInfo(raw)
			if err != nil {
				return errors.Wrapf(err, "event %d", len(t.events))
			}

			if x.ExtResult != nil {
				e.Result = *x.ExtResult
			}
		}

		t.events = append(t.events, e)
		offset += recordHeaderSize + int64(rec.DataLen)
	}
}

func (t *Timeline) Count() int {
	return len(t.events)
}

// Event returns the entry at index.
func (t *Timeline) Event(index int) (EventEntry, error) {
	if index < 0 || index >= len(t.events) {
		return EventEntry{}, errors.Wrapf(ErrIndexOutOfRange, "%d (count %d)", index, len(t.events))
	}

	return t.events[index], nil
}

// Events returns all entries. The slice must not be modified.
func (t *Timeline) Events() []EventEntry {
	return t.events
}

// RawExtra returns the decompressed extra info blob of index, nil when there is none.
func (t *Timeline) RawExtra(index int) ([]byte, error) {
	e, err := t.Event(index)
	if err != nil {
		return nil, err
	}

	if !e.HasExtra() {
		return nil, nil
	}

	if t.ctx == nil {
		return nil, ErrClosed
	}

	stored := make([]byte, e.ExtraSize)
	if _, err := t.ctx.ReadAt(stored, e.ExtraOffset); err != nil {
		return nil, errors.Wrapf(err, "timeline: reading extra info of event %d", index)
	}

	return decompress(stored, e.codec, int(e.RawSize))
}

// ExtraInfo copies the decompressed extra info blob of index into buf and
// returns the byte count. An event without extra info yields 0 bytes.
func (t *Timeline) ExtraInfo(index int, buf []byte) (int, error) {
	raw, err := t.RawExtra(index)
	if err != nil {
		return 0, err
	}

	if len(raw) > len(buf) {
		return 0, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", len(raw), len(buf))
	}

	return copy(buf, raw), nil
}

// DecodeExtra returns the decoded extra info of index, nil when there is none.
func (t *Timeline) DecodeExtra(index int) (*ExtraInfo, error) {
	raw, err := t.RawExtra(index)
	if err != nil || raw == nil {
		return nil, err
	}

	return DecodeExtraInfo(raw)
}

func (t *Timeline) Close() error {
	if t.ctx == nil {
		return nil
	}

	err := t.ctx.Close()
	t.ctx = nil
	return err
}

// CreateTimeline opens a recorded timeline and returns it with its event count.
func CreateTimeline(mapsFile, contextFile string) (*Timeline, int, error) {
	tl, err := Open(mapsFile, contextFile)
	if err != nil {
		return nil, 0, err
	}

	return tl, tl.Count(), nil
}

func GetEvent(tl *Timeline, index int) (EventEntry, error) {
	return tl.Event(index)
}

func GetEventExtraInfo(tl *Timeline, index int, buf []byte) (int, error) {
	return tl.ExtraInfo(index, buf)
}

func DestroyTimeline(tl *Timeline) error {
	return tl.Close()
}
