// Package coredump turns a point of a recorded timeline into an ELF core
// file a debugger can load next to the traced executable.
package coredump

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/memmap"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

var ErrNoRegisters = errors.New("coredump: no registers recorded for the event thread")

// Thread is the register state of one thread in the core.
type Thread struct {
	Tid    int32
	Regs   []uint64
	Signal int
}

// Segment is one PT_LOAD. Data is nil for memory that was never captured.
type Segment struct {
	Start uint64
	End   uint64
	Flags elf.ProgFlag
	Data  []byte
}

func (s Segment) Captured() bool {
	return s.Data != nil
}

// Core is the content of a synthesized core file.
type Core struct {
	Machine  elf.Machine
	Pid      int
	Exe      string
	Auxv     []byte
	Threads  []Thread
	Segments []Segment

	notes []note
}

// Build reconstructs the process state right after event index.
func Build(tl *timeline.Timeline, index int) (*Core, error) {
	event, err := tl.Event(index)
	if err != nil {
		return nil, err
	}

	arch := system.ElfMachineArch(tl.Machine)
	if arch.Name == system.ArchNameUnknown {
		return nil, errors.Errorf("coredump: unsupported machine %v", tl.Machine)
	}

	space, err := memmap.ForTimeline(tl).At(index)
	if err != nil {
		return nil, err
	}

	var (
		img   image
		regs  = map[int32][]uint64{}
		order []int32
	)
	seen := func(tid int32, r []uint64) {
		if len(r) == 0 {
			return
		}
		if _, ok := regs[tid]; !ok {
			order = append(order, tid)
		}
		regs[tid] = r
	}

	for i := 0; i <= index; i++ {
		e, err := tl.Event(i)
		if err != nil {
			return nil, err
		}
		if !e.HasExtra() {
			continue
		}

		x, err := tl.DecodeExtra(i)
		if err != nil {
			return nil, errors.Wrapf(err, "coredump: event %d", i)
		}

		for _, m := range x.Mem {
			img.add(m)
		}

		tids := make([]int32, 0, len(x.Threads))
		for tid := range x.Threads {
			tids = append(tids, tid)
		}
		sort.Slice(tids, func(a, b int) bool { return tids[a] < tids[b] })
		for _, tid := range tids {
			seen(tid, x.Threads[tid])
		}
		seen(e.Tid, x.Regs)
	}

	mainRegs, ok := regs[event.Tid]
	if !ok {
		return nil, errors.Wrapf(ErrNoRegisters, "tid %d, event %d", event.Tid, index)
	}

	sig, _ := event.Signal()
	core := &Core{
		Machine: tl.Machine,
		Pid:     tl.Pid,
		Exe:     space.Exe,
		Auxv:    space.Auxv,
		Threads: []Thread{{Tid: event.Tid, Regs: fitRegs(mainRegs, arch.Regs.Count), Signal: sig}},
	}
	if core.Exe == "" {
		core.Exe = tl.ExecPath
	}

	for _, tid := range order {
		if tid != event.Tid {
			core.Threads = append(core.Threads, Thread{Tid: tid, Regs: fitRegs(regs[tid], arch.Regs.Count)})
		}
	}

	regions := space.Regions()
	for _, r := range regions {
		core.Segments = append(core.Segments, split(r.Start, r.End, progFlags(r), &img)...)
	}

	core.notes = append(core.notes, prStatusNote(core.Threads[0], core.Pid, arch.Regs.Count))
	core.notes = append(core.notes, prPsInfoNote(core.Pid, core.Exe, ""))
	if len(core.Auxv) > 0 {
		core.notes = append(core.notes, note{typ: ntAuxv, desc: core.Auxv})
	}
	if n, ok := fileNote(regions, memmap.PageSize); ok {
		core.notes = append(core.notes, n)
	}
	for _, t := range core.Threads[1:] {
		core.notes = append(core.notes, prStatusNote(t, core.Pid, arch.Regs.Count))
	}

	return core, nil
}

func fitRegs(regs []uint64, count int) []uint64 {
	out := make([]uint64, count)
	copy(out, regs)
	return out
}

// split cuts a mapping at capture boundaries, so captured bytes get file
// contents and the gaps stay absent.
func split(start, end uint64, flags elf.ProgFlag, img *image) []Segment {
	var out []Segment
	cursor := start
	for _, p := range img.within(start, end) {
		if p.start > cursor {
			out = append(out, Segment{Start: cursor, End: p.start, Flags: flags})
		}
		out = append(out, Segment{Start: p.start, End: p.end(), Flags: flags, Data: p.data})
		cursor = p.end()
	}

	if cursor < end {
		out = append(out, Segment{Start: cursor, End: end, Flags: flags})
	}

	return out
}

// CapturedBytes is the number of memory bytes with file contents.
func (c *Core) CapturedBytes() int {
	n := 0
	for _, s := range c.Segments {
		n += len(s.Data)
	}
	return n
}

// WriteTo writes the core as ELF64 little endian.
func (c *Core) WriteTo(w io.Writer) (int64, error) {
	phnum := 1 + len(c.Segments)

	var notes bytes.Buffer
	for _, n := range c.notes {
		n.encode(&notes)
	}

	noteOffset := uint64(ehdrSize + phnum*phdrSize)
	offsets := make([]uint64, len(c.Segments))
	cursor := uint64(align(int(noteOffset)+notes.Len(), memmap.PageSize))
	for i, s := range c.Segments {
		if !s.Captured() {
			continue
		}

		// keep file offset and address congruent modulo the page size
		if pad := (s.Start - cursor) % memmap.PageSize; pad != 0 {
			cursor += pad
		}
		offsets[i] = cursor
		cursor += uint64(len(s.Data))
	}

	cw := &countingWriter{w: bufio.NewWriterSize(w, 1<<20)}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(c.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(phnum),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	if err := binary.Write(cw, le, &hdr); err != nil {
		return cw.n, err
	}

	phdrs := []elf.Prog64{{
		Type:   uint32(elf.PT_NOTE),
		Off:    noteOffset,
		Filesz: uint64(notes.Len()),
		Align:  4,
	}}
	for i, s := range c.Segments {
		p := elf.Prog64{
			Type:  uint32(elf.PT_LOAD),
			Flags: uint32(s.Flags),
			Off:   offsets[i],
			Vaddr: s.Start,
			Memsz: s.End - s.Start,
			Align: memmap.PageSize,
		}
		if s.Captured() {
			p.Filesz = uint64(len(s.Data))
		}
		phdrs = append(phdrs, p)
	}

	if err := binary.Write(cw, le, phdrs); err != nil {
		return cw.n, err
	}

	if _, err := cw.Write(notes.Bytes()); err != nil {
		return cw.n, err
	}

	for i, s := range c.Segments {
		if !s.Captured() {
			continue
		}

		if err := cw.pad(offsets[i]); err != nil {
			return cw.n, err
		}
		if _, err := cw.Write(s.Data); err != nil {
			return cw.n, err
		}
	}

	return cw.n, cw.w.(*bufio.Writer).Flush()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) pad(to uint64) error {
	if gap := int64(to) - cw.n; gap > 0 {
		_, err := cw.Write(make([]byte, gap))
		return err
	}
	return nil
}

// Generate writes the core of event index to outPath.
func Generate(tl *timeline.Timeline, index int, outPath string, verbose bool) error {
	_, err := Write(tl, index, outPath, verbose)
	return err
}

// Write is Generate returning the core it wrote.
func Write(tl *timeline.Timeline, index int, outPath string, verbose bool) (*Core, error) {
	core, err := Build(tl, index)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "coredump.Write")
	}

	size, err := core.WriteTo(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return nil, errors.Wrap(err, "coredump.Write")
	}

	if verbose {
		absent := 0
		for _, s := range core.Segments {
			if !s.Captured() {
				absent++
			}
		}

		log.WithFields(log.Fields{
			"event":    index,
			"threads":  len(core.Threads),
			"segments": len(core.Segments),
			"absent":   absent,
			"captured": humanize.Bytes(uint64(core.CapturedBytes())),
			"size":     humanize.Bytes(uint64(size)),
		}).Infof("coredump: wrote %s", outPath)
	}

	return core, nil
}

// GenerateCoredump is Generate reporting 0 on success and -1 on failure.
func GenerateCoredump(tl *timeline.Timeline, index int, outPath string, verbose bool) int {
	if err := Generate(tl, index, outPath, verbose); err != nil {
		log.WithError(err).Errorf("coredump: event %d", index)
		return -1
	}

	return 0
}
