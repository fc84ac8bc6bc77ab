package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const (
	testPid   = 100
	testPC    = 0x401234
	stackAddr = 0x7ffd1000
)

func amd64Regs(pc, sp uint64) []uint64 {
	regs := make([]uint64, 27)
	regs[16] = pc
	regs[19] = sp
	return regs
}

func writeTrace(t *testing.T) *timeline.Timeline {
	t.Helper()
	dir := t.TempDir()

	w, err := timeline.Create(filepath.Join(dir, timeline.ContextFileName(testPid)),
		timeline.WriterOptions{Pid: testPid, Machine: elf.EM_X86_64, CompressLevel: 1})
	require.NoError(t, err)

	stack := bytes.Repeat([]byte{0xab}, 64)
	_, err = w.Append(timeline.EventEntry{Type: 39, Tid: testPid, Result: testPid}, &timeline.ExtraInfo{
		Regs: amd64Regs(testPC, stackAddr),
		Mem:  []timeline.MemCapture{{Addr: stackAddr, Kind: timeline.MemStack, Data: stack}},
	})
	require.NoError(t, err)

	_, err = w.Append(timeline.EventEntry{Type: timeline.SignalType(10), Tid: testPid + 1, ThreadNum: 1}, &timeline.ExtraInfo{
		Regs:    amd64Regs(0x402000, stackAddr+0x100),
		Threads: map[int32][]uint64{testPid: amd64Regs(testPC+4, stackAddr)},
		Mem:     []timeline.MemCapture{{Addr: stackAddr + 32, Kind: timeline.MemStack, Data: []byte{1, 2, 3, 4}}},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	mw, err := timeline.CreateMaps(filepath.Join(dir, timeline.MapsFileName(testPid)), testPid, elf.EM_X86_64, nil)
	require.NoError(t, err)
	require.NoError(t, mw.Append(&timeline.MapsSnapshot{
		EventIndex: 0,
		Exe:        "/bin/app",
		Auxv:       []byte{9, 0, 0, 0, 0, 0, 0, 0, 0x34, 0x12, 0x40, 0, 0, 0, 0, 0},
		Regions: []procfs.Region{
			{Start: 0x400000, End: 0x402000, Perms: "r-xp", Inode: 5, Path: "/bin/app"},
			{Start: 0x600000, End: 0x620000, Perms: "rw-p", Path: "[heap]"},
			{Start: 0x7ffd0000, End: 0x7ffd3000, Perms: "rw-p", Path: "[stack]"},
		},
	}))
	require.NoError(t, mw.Close())

	tl, err := timeline.OpenDir(dir, testPid)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return tl
}

type parsedNote struct {
	typ  uint32
	desc []byte
}

func readNotes(t *testing.T, f *elf.File) []parsedNote {
	t.Helper()

	var data []byte
	for _, p := range f.Progs {
		if p.Type == elf.PT_NOTE {
			var err error
			data, err = io.ReadAll(p.Open())
			require.NoError(t, err)
			break
		}
	}
	require.NotEmpty(t, data)

	var notes []parsedNote
	for len(data) >= 12 {
		namesz := binary.LittleEndian.Uint32(data[0:])
		descsz := binary.LittleEndian.Uint32(data[4:])
		typ := binary.LittleEndian.Uint32(data[8:])
		off := 12 + align(int(namesz), 4)
		notes = append(notes, parsedNote{typ: typ, desc: data[off : off+int(descsz)]})
		data = data[off+align(int(descsz), 4):]
	}

	return notes
}

func TestGenerate(t *testing.T) {
	tl := writeTrace(t)
	out := filepath.Join(t.TempDir(), "core")

	require.NoError(t, Generate(tl, 0, out, true))

	f, err := elf.Open(out)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, elf.ET_CORE, f.Type)
	assert.Equal(t, elf.EM_X86_64, f.Machine)
	require.NotEmpty(t, f.Progs)
	assert.Equal(t, elf.PT_NOTE, f.Progs[0].Type)

	var loads []*elf.Prog
	for _, p := range f.Progs[1:] {
		require.Equal(t, elf.PT_LOAD, p.Type)
		loads = append(loads, p)
	}

	// app and heap absent, stack split around the capture
	require.Len(t, loads, 5)
	assert.Zero(t, loads[0].Filesz)
	assert.Equal(t, uint64(0x2000), loads[0].Memsz)
	assert.Equal(t, elf.PF_R|elf.PF_X, loads[0].Flags)
	assert.Zero(t, loads[1].Filesz)
	assert.Zero(t, loads[2].Filesz)

	captured := loads[3]
	assert.Equal(t, uint64(stackAddr), captured.Vaddr)
	require.Equal(t, uint64(64), captured.Filesz)
	data, err := io.ReadAll(captured.Open())
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 64), data)
	assert.Zero(t, loads[4].Filesz)

	notes := readNotes(t, f)
	require.GreaterOrEqual(t, len(notes), 4)
	assert.Equal(t, uint32(ntPrStatus), notes[0].typ)
	assert.Len(t, notes[0].desc, 336)
	assert.Equal(t, uint32(testPid), binary.LittleEndian.Uint32(notes[0].desc[prPidOffset:]))
	assert.Equal(t, uint64(testPC), binary.LittleEndian.Uint64(notes[0].desc[prRegOffset+16*8:]))
	assert.Equal(t, uint32(ntPrPsInfo), notes[1].typ)
	assert.Equal(t, uint32(ntAuxv), notes[2].typ)
	assert.Equal(t, uint32(ntFile), notes[3].typ)
	assert.Contains(t, string(notes[3].desc), "/bin/app")
}

func TestBuildLaterEvent(t *testing.T) {
	tl := writeTrace(t)

	core, err := Build(tl, 1)
	require.NoError(t, err)

	require.Len(t, core.Threads, 2)
	assert.Equal(t, int32(testPid+1), core.Threads[0].Tid)
	assert.Equal(t, 10, core.Threads[0].Signal)
	assert.Equal(t, int32(testPid), core.Threads[1].Tid)
	assert.Equal(t, uint64(testPC+4), core.Threads[1].Regs[16])

	// the second capture overrides four bytes of the first
	var stack []byte
	for _, s := range core.Segments {
		if s.Captured() {
			stack = append(stack, s.Data...)
		}
	}
	require.Len(t, stack, 64)
	assert.Equal(t, []byte{1, 2, 3, 4}, stack[32:36])
	assert.Equal(t, byte(0xab), stack[36])

	var buf bytes.Buffer
	n, err := core.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	prstatus := 0
	for _, n := range readNotes(t, f) {
		if n.typ == ntPrStatus {
			prstatus++
		}
	}
	assert.Equal(t, 2, prstatus)
}

func TestGenerateCoredumpFailure(t *testing.T) {
	tl := writeTrace(t)
	out := filepath.Join(t.TempDir(), "core")

	assert.Equal(t, -1, GenerateCoredump(tl, tl.Count(), out, false))
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 0, GenerateCoredump(tl, tl.Count()-1, out, false))
}

func TestImageOverlay(t *testing.T) {
	tt := []struct {
		name  string
		adds  []timeline.MemCapture
		start uint64
		end   uint64
		want  []piece
	}{
		{
			name:  "disjoint",
			adds:  []timeline.MemCapture{{Addr: 10, Data: []byte{1, 1}}, {Addr: 20, Data: []byte{2}}},
			start: 0, end: 100,
			want: []piece{{start: 10, data: []byte{1, 1}}, {start: 20, data: []byte{2}}},
		},
		{
			name:  "later wins",
			adds:  []timeline.MemCapture{{Addr: 10, Data: []byte{1, 1, 1, 1}}, {Addr: 11, Data: []byte{2, 2}}},
			start: 0, end: 100,
			want: []piece{{start: 10, data: []byte{1}}, {start: 11, data: []byte{2, 2}}, {start: 13, data: []byte{1}}},
		},
		{
			name:  "clipped",
			adds:  []timeline.MemCapture{{Addr: 10, Data: []byte{1, 2, 3, 4}}},
			start: 11, end: 13,
			want: []piece{{start: 11, data: []byte{2, 3}}},
		},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			var img image
			for _, c := range test.adds {
				img.add(c)
			}
			assert.Equal(t, test.want, img.within(test.start, test.end))
		})
	}
}
