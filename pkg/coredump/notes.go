package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"path/filepath"

	"github.com/slimtoolkit/emd/pkg/procfs"
)

const (
	ntPrStatus = 1
	ntPrPsInfo = 3
	ntAuxv     = 6
	ntFile     = 0x46494c45

	noteName = "CORE"

	// offsets inside struct elf_prstatus
	prCursigOffset = 12
	prPidOffset    = 32
	prRegOffset    = 112

	prPsInfoSize = 136
	fnameLen     = 16
	psargsLen    = 80
)

var le = binary.LittleEndian

// prStatusSize is sizeof(struct elf_prstatus) for a register count: the
// register block plus pr_fpvalid, padded to 8 bytes.
func prStatusSize(regCount int) int {
	return align(prRegOffset+regCount*8+4, 8)
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}

type note struct {
	typ  uint32
	desc []byte
}

func (n note) size() int {
	return 12 + align(len(noteName)+1, 4) + align(len(n.desc), 4)
}

func (n note) encode(buf *bytes.Buffer) {
	var hdr [12]byte
	le.PutUint32(hdr[0:], uint32(len(noteName)+1))
	le.PutUint32(hdr[4:], uint32(len(n.desc)))
	le.PutUint32(hdr[8:], n.typ)
	buf.Write(hdr[:])

	name := make([]byte, align(len(noteName)+1, 4))
	copy(name, noteName)
	buf.Write(name)

	desc := make([]byte, align(len(n.desc), 4))
	copy(desc, n.desc)
	buf.Write(desc)
}

func prStatusNote(t Thread, pid int, regCount int) note {
	desc := make([]byte, prStatusSize(regCount))
	le.PutUint32(desc[0:], uint32(t.Signal))
	le.PutUint16(desc[prCursigOffset:], uint16(t.Signal))
	le.PutUint32(desc[prPidOffset:], uint32(t.Tid))
	le.PutUint32(desc[prPidOffset+8:], uint32(pid))
	le.PutUint32(desc[prPidOffset+12:], uint32(pid))

	for i := 0; i < regCount && i < len(t.Regs); i++ {
		le.PutUint64(desc[prRegOffset+i*8:], t.Regs[i])
	}

	return note{typ: ntPrStatus, desc: desc}
}

func prPsInfoNote(pid int, exe string, args string) note {
	desc := make([]byte, prPsInfoSize)
	desc[1] = 'R'
	le.PutUint32(desc[24:], uint32(pid))
	le.PutUint32(desc[32:], uint32(pid))
	le.PutUint32(desc[36:], uint32(pid))

	fname := filepath.Base(exe)
	if len(fname) >= fnameLen {
		fname = fname[:fnameLen-1]
	}
	copy(desc[40:], fname)

	if args == "" {
		args = exe
	}
	if len(args) >= psargsLen {
		args = args[:psargsLen-1]
	}
	copy(desc[40+fnameLen:], args)

	return note{typ: ntPrPsInfo, desc: desc}
}

// fileNote lists the file backed mappings, the way gdb finds shared
// libraries in a core without a live process.
func fileNote(regions []procfs.Region, pageSize uint64) (note, bool) {
	var files []procfs.Region
	for _, r := range regions {
		if isFileBacked(r) {
			files = append(files, r)
		}
	}

	if len(files) == 0 {
		return note{}, false
	}

	var buf bytes.Buffer
	var word [8]byte
	put := func(v uint64) {
		le.PutUint64(word[:], v)
		buf.Write(word[:])
	}

	put(uint64(len(files)))
	put(pageSize)
	for _, r := range files {
		put(r.Start)
		put(r.End)
		put(r.Offset / pageSize)
	}
	for _, r := range files {
		buf.WriteString(r.Path)
		buf.WriteByte(0)
	}

	return note{typ: ntFile, desc: buf.Bytes()}, true
}

func isFileBacked(r procfs.Region) bool {
	return r.Path != "" && r.Path[0] == '/'
}

func progFlags(r procfs.Region) elf.ProgFlag {
	var flags elf.ProgFlag
	if r.Readable() {
		flags |= elf.PF_R
	}
	if r.Writable() {
		flags |= elf.PF_W
	}
	if r.Executable() {
		flags |= elf.PF_X
	}
	return flags
}
