package timeline

import (
	"bufio"
	"bytes"
	"debug/elf"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/slimtoolkit/emd/pkg/procfs"
)

// MapsSnapshot is the full memory layout of a process. It describes the
// state after all events with an index below EventIndex.
type MapsSnapshot struct {
	EventIndex int             `cbor:"event"`
	Regions    []procfs.Region `cbor:"regions"`
	Auxv       []byte          `cbor:"auxv,omitempty"`
	Brk        uint64          `cbor:"brk,omitempty"`
	Exe        string          `cbor:"exe,omitempty"`
}

// MapsWriter appends snapshots to a maps file.
type MapsWriter struct {
	file   *os.File
	buf    *bufio.Writer
	budget Budget
	count  int
}

func CreateMaps(path string, pid int, machine elf.Machine, budget Budget) (*MapsWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "timeline.CreateMaps")
	}

	hdr := fileHeader{Magic: mapsMagic, Version: formatVersion, Machine: machine, Pid: int32(pid)}
	if budget != nil && !budget.Reserve(fileHeaderSize) {
		file.Close()
		return nil, ErrBudgetExhausted
	}

	buf := bufio.NewWriter(file)
	if _, err := buf.Write(hdr.encode()); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "timeline.CreateMaps")
	}

	return &MapsWriter{
		file:   file,
		buf:    buf,
		budget: budget,
	}, nil
}

func (w *MapsWriter) Append(s *MapsSnapshot) error {
	if w.file == nil {
		return ErrClosed
	}

	raw, err := marshal(s)
	if err != nil {
		return errors.Wrap(err, "timeline.MapsWriter.Append")
	}

	if w.budget != nil && !w.budget.Reserve(int64(len(raw))) {
		return ErrBudgetExhausted
	}

	if _, err := w.buf.Write(raw); err != nil {
		return errors.Wrap(err, "timeline.MapsWriter.Append")
	}

	w.count++
	return w.buf.Flush()
}

func (w *MapsWriter) Count() int {
	return w.count
}

func (w *MapsWriter) Close() error {
	if w.file == nil {
		return nil
	}

	ferr := w.buf.Flush()
	if err := w.file.Close(); err != nil && ferr == nil {
		ferr = err
	}

	w.file = nil
	return ferr
}

// ReadMaps loads all snapshots of a maps file. A truncated trailing
// snapshot is dropped.
func ReadMaps(path string) ([]MapsSnapshot, elf.Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	hdr, err := decodeFileHeader(data, mapsMagic)
	if err != nil {
		return nil, 0, errors.Wrap(err, path)
	}

	var snaps []MapsSnapshot
	dec := decMode.NewDecoder(bytes.NewReader(data[fileHeaderSize:]))
	for {
		var s MapsSnapshot
		if err := dec.Decode(&s); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			return snaps, hdr.Machine, errors.Wrap(err, path)
		}

		snaps = append(snaps, s)
	}

	return snaps, hdr.Machine, nil
}
