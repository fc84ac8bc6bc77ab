package timeline

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/procfs"
)

type byteBudget struct {
	left int64
}

func (b *byteBudget) Reserve(n int64) bool {
	if n > b.left {
		b.left = 0
		return false
	}

	b.left -= n
	return true
}

func sampleEvent(i int) EventEntry {
	return EventEntry{
		Type:      uint16(i % 400),
		ThreadNum: uint16(i % 7),
		Tid:       int32(1000 + i%7),
		Result:    int64(i%5) - 2,
	}
}

func sampleExtra(i int) *ExtraInfo {
	if i%3 == 0 {
		return nil
	}

	return &ExtraInfo{
		Regs: []uint64{uint64(i), 2, 3},
		Args: []uint64{1, 2, 3, 4, 5, 6},
		Mem: []MemCapture{{
			Addr: 0x7ffd0000 + uint64(i),
			Kind: MemStack,
			Data: []byte(fmt.Sprintf("stack-%08d-stack-%08d-stack-%08d", i, i, i)),
		}},
	}
}

func writeTimeline(t *testing.T, dir string, n, level int) string {
	t.Helper()

	path := filepath.Join(dir, ContextFileName(42))
	w, err := Create(path, WriterOptions{Pid: 42, Machine: elf.EM_X86_64, CompressLevel: level, FlushSize: 4096})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		idx, err := w.Append(sampleEvent(i), sampleExtra(i))
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	require.Equal(t, n, w.Count())
	require.NoError(t, w.Close())
	return path
}

func TestRoundTrip(t *testing.T) {
	for _, level := range []int{0, 1, 3} {
		for _, n := range []int{0, 1, 10000} {
			t.Run(fmt.Sprintf("level%d_n%d", level, n), func(t *testing.T) {
				path := writeTimeline(t, t.TempDir(), n, level)

				tl, count, err := CreateTimeline("", path)
				require.NoError(t, err)
				defer DestroyTimeline(tl)

				require.Equal(t, n, count)
				assert.Equal(t, 42, tl.Pid)
				assert.Equal(t, elf.EM_X86_64, tl.Machine)
				assert.False(t, tl.Truncated)

				for i := 0; i < n; i++ {
					e, err := GetEvent(tl, i)
					require.NoError(t, err)

					want := sampleEvent(i)
					if e.Type != want.Type || e.ThreadNum != want.ThreadNum || e.Tid != want.Tid || e.Result != want.Result {
						t.Fatalf("event %d = %+v, want %+v", i, e, want)
					}

					if i%997 == 1 {
						x, err := tl.DecodeExtra(i)
						require.NoError(t, err)
						assert.Equal(t, sampleExtra(i), x)
					}
				}
			})
		}
	}
}

func TestReopen(t *testing.T) {
	path := writeTimeline(t, t.TempDir(), 50, 1)

	first, err := Open("", path)
	require.NoError(t, err)
	firstEvents := append([]EventEntry(nil), first.Events()...)
	require.NoError(t, first.Close())

	second, count, err := CreateTimeline("", path)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, len(firstEvents), count)
	assert.Equal(t, firstEvents, second.Events())
}

func TestExtraInfoBoundaries(t *testing.T) {
	path := writeTimeline(t, t.TempDir(), 4, 1)

	tl, count, err := CreateTimeline("", path)
	require.NoError(t, err)
	defer tl.Close()

	buf := make([]byte, 4096)

	// event 0 and 3 have no payload
	n, err := GetEventExtraInfo(tl, 0, buf)
	assert.NoError(t, err)
	assert.Zero(t, n)

	n, err = GetEventExtraInfo(tl, 1, buf)
	require.NoError(t, err)
	require.NotZero(t, n)
	x, err := DecodeExtraInfo(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, sampleExtra(1), x)

	_, err = GetEventExtraInfo(tl, 1, buf[:2])
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = GetEventExtraInfo(tl, count, buf)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = GetEvent(tl, count)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = GetEvent(tl, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestExtendedResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), ContextFileName(1))
	w, err := Create(path, WriterOptions{Pid: 1, CompressLevel: 0})
	require.NoError(t, err)

	results := []int64{0, -2, 0xfffe, 0xffff, 0x7f12345000, -0x80000000}
	for _, r := range results {
		_, err := w.Append(EventEntry{Type: 9, Result: r}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	tl, err := Open("", path)
	require.NoError(t, err)
	defer tl.Close()

	for i, r := range results {
		e, err := tl.Event(i)
		require.NoError(t, err)
		assert.Equal(t, r, e.Result, "event %d", i)
	}
}

func TestTruncatedTail(t *testing.T) {
	path := writeTimeline(t, t.TempDir(), 20, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	tl, err := Open("", path)
	require.NoError(t, err)
	defer tl.Close()

	assert.Equal(t, 19, tl.Count())
	assert.True(t, tl.Truncated)
}

func TestCorruptRecord(t *testing.T) {
	path := writeTimeline(t, t.TempDir(), 3, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	tl, err := Open("", path)
	require.NoError(t, err)
	defer tl.Close()

	assert.Equal(t, 2, tl.Count())
	assert.True(t, tl.Truncated)
}

func TestOversizedRecord(t *testing.T) {
	path := writeTimeline(t, t.TempDir(), 3, 0)

	hdr := recordHeader{Type: 1, Tid: 42, DataLen: 0xfffffff0}
	tail := append(hdr.encode(nil), make([]byte, 16)...)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(tail)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	tl, err := Open("", path)
	require.NoError(t, err)
	defer tl.Close()

	runtime.ReadMemStats(&after)

	assert.Equal(t, 3, tl.Count())
	assert.True(t, tl.Truncated)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context_1")
	require.NoError(t, os.WriteFile(path, []byte("not a timeline at all, really"), 0644))

	_, err := Open("", path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestBudget(t *testing.T) {
	budget := &byteBudget{left: fileHeaderSize + 3*recordHeaderSize}
	path := filepath.Join(t.TempDir(), ContextFileName(1))

	w, err := Create(path, WriterOptions{Pid: 1, Budget: budget})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Append(EventEntry{Type: 1}, nil)
		require.NoError(t, err)
	}

	_, err = w.Append(EventEntry{Type: 1}, nil)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.True(t, w.Exhausted())
	require.NoError(t, w.Close())

	tl, err := Open("", path)
	require.NoError(t, err)
	defer tl.Close()
	assert.Equal(t, 3, tl.Count())

	_, err = Create(filepath.Join(t.TempDir(), "x"), WriterOptions{Budget: &byteBudget{}})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestMapsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MapsFileName(7))

	mw, err := CreateMaps(path, 7, elf.EM_AARCH64, nil)
	require.NoError(t, err)

	snaps := []MapsSnapshot{
		{EventIndex: 0, Exe: "/bin/true", Regions: []procfs.Region{{Start: 0x1000, End: 0x2000, Perms: "r-xp", Path: "/bin/true", Inode: 3}}},
		{EventIndex: 64, Brk: 0x5000, Auxv: []byte{9, 0, 0, 0, 0, 0, 0, 0}, Regions: []procfs.Region{{Start: 0x4000, End: 0x6000, Perms: "rw-p", Path: "[heap]"}}},
	}
	for i := range snaps {
		require.NoError(t, mw.Append(&snaps[i]))
	}
	require.NoError(t, mw.Close())

	got, machine, err := ReadMaps(path)
	require.NoError(t, err)
	assert.Equal(t, elf.EM_AARCH64, machine)
	assert.Equal(t, snaps, got)

	// drop half of the last snapshot
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

	got, _, err = ReadMaps(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenDir(t *testing.T) {
	dir := t.TempDir()
	writeTimeline(t, dir, 5, 1)
	require.NoError(t, WriteExecFile(dir, 42, "/usr/bin/target"))

	mw, err := CreateMaps(filepath.Join(dir, MapsFileName(42)), 42, elf.EM_X86_64, nil)
	require.NoError(t, err)
	require.NoError(t, mw.Append(&MapsSnapshot{EventIndex: 0}))
	require.NoError(t, mw.Close())

	pids, err := ListPids(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, pids)

	tl, err := OpenDir(dir, 42)
	require.NoError(t, err)
	defer tl.Close()

	assert.Equal(t, 5, tl.Count())
	assert.Equal(t, "/usr/bin/target", tl.ExecPath)
	assert.Len(t, tl.Maps, 1)
}

func TestEventKinds(t *testing.T) {
	tt := []struct {
		typ  uint16
		kind Kind
		name string
	}{
		{typ: 1, kind: KindSyscall, name: "syscall_1"},
		{typ: SignalType(10), kind: KindSignal, name: "SIGUSR1"},
		{typ: DumpReasonDBus, kind: KindDBus, name: "dbus"},
		{typ: DumpReasonX11, kind: KindX11, name: "x11"},
		{typ: PtraceType(4), kind: KindPtrace, name: "ptrace_EXEC"},
		{typ: DumpReasonFunc, kind: KindFunc, name: "func"},
		{typ: 0x2000, kind: KindUnknown, name: "type_0x2000"},
	}

	for _, test := range tt {
		e := EventEntry{Type: test.typ}
		if e.Kind() != test.kind {
			t.Errorf("%#x: Kind() = %v, want %v", test.typ, e.Kind(), test.kind)
		}
		if got := e.Name(nil); got != test.name {
			t.Errorf("%#x: Name() = %q, want %q", test.typ, got, test.name)
		}
	}

	sig, ok := EventEntry{Type: SignalType(10)}.Signal()
	assert.True(t, ok)
	assert.Equal(t, 10, sig)
}

func TestArena(t *testing.T) {
	a := NewArena(8)
	off1 := a.Append([]byte("abc"))
	off2 := a.Append([]byte("de"), []byte("f"))
	assert.Equal(t, 0, off1)
	assert.Equal(t, 3, off2)
	assert.Equal(t, "def", string(a.Slice(off2, 3)))
	a.Reset()
	assert.Zero(t, a.Len())
}
