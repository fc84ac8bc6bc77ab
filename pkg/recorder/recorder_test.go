package recorder

import (
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const MiB = 1024 * 1024

func TestClampDumpBytes(t *testing.T) {
	reserve := int64(consts.MinReservedSpace)

	tt := []struct {
		name     string
		max      int64
		freeTmp  int64
		freeDump int64
		want     int64
	}{
		{name: "free equals reserve", max: 1 << 30, freeTmp: reserve, freeDump: reserve, want: 0},
		{name: "tmp at reserve", max: 1 << 30, freeTmp: reserve, freeDump: 10 << 30, want: 0},
		{name: "below reserve", max: 1 << 30, freeTmp: reserve - 1, freeDump: 10 << 30, want: 0},
		{name: "plenty", max: 1 << 30, freeTmp: 10 << 30, freeDump: 10 << 30, want: 1 << 30},
		{name: "dump dir is the limit", max: 1 << 30, freeTmp: 10 << 30, freeDump: reserve + 5*MiB, want: 5 * MiB},
		{name: "tmp is the limit", max: 1 << 30, freeTmp: reserve + 7*MiB, freeDump: 10 << 30, want: 7 * MiB},
		{name: "zero max", max: 0, freeTmp: 10 << 30, freeDump: 10 << 30, want: 0},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, ClampDumpBytes(test.max, test.freeTmp, test.freeDump))
		})
	}
}

func TestBudget(t *testing.T) {
	b := NewBudget(100)
	assert.True(t, b.Reserve(60))
	assert.True(t, b.Reserve(40))
	assert.False(t, b.Exhausted())

	assert.False(t, b.Reserve(1))
	assert.True(t, b.Exhausted())
	assert.Equal(t, int64(100), b.Used())

	// no partial writes after the first refusal
	assert.False(t, b.Reserve(0))

	zero := NewBudget(0)
	assert.False(t, zero.Reserve(24))
	assert.Equal(t, int64(0), zero.Used())
}

func TestSelectMode(t *testing.T) {
	fastCfg := func() *config.DumpConfig {
		cfg := config.Default()
		cfg.CurrentThreadOnly = true
		cfg.MaxHeapSize = 0
		return cfg
	}

	tt := []struct {
		name    string
		cfg     func() *config.DumpConfig
		preload string
		want    config.Mode
	}{
		{name: "fast", cfg: fastCfg, preload: "/usr/lib/libemd_preload.so", want: config.ModeFast},
		{name: "no preload", cfg: fastCfg, want: config.ModeNormal},
		{name: "dry run", preload: "/lib.so", want: config.ModeDryRun, cfg: func() *config.DumpConfig {
			cfg := fastCfg()
			cfg.Mode = config.ModeDryRun
			return cfg
		}},
		{name: "forced normal", preload: "/lib.so", want: config.ModeNormal, cfg: func() *config.DumpConfig {
			cfg := fastCfg()
			cfg.Mode = config.ModeNormal
			return cfg
		}},
		{name: "all threads", preload: "/lib.so", want: config.ModeNormal, cfg: func() *config.DumpConfig {
			cfg := fastCfg()
			cfg.CurrentThreadOnly = false
			return cfg
		}},
		{name: "heap capture", preload: "/lib.so", want: config.ModeNormal, cfg: func() *config.DumpConfig {
			cfg := fastCfg()
			cfg.MaxHeapSize = 4096
			return cfg
		}},
		{name: "watched vars", preload: "/lib.so", want: config.ModeNormal, cfg: func() *config.DumpConfig {
			cfg := fastCfg()
			cfg.Vars = []config.VarSpec{{Name: "g_state", MaxSize: 8}}
			return cfg
		}},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, SelectMode(test.cfg(), test.preload))
		})
	}
}

func TestFindPreloadLib(t *testing.T) {
	lib := filepath.Join(t.TempDir(), consts.PreloadLibName)
	require.NoError(t, os.WriteFile(lib, []byte{0x7f}, 0644))

	t.Setenv(consts.EnvPreloadLib, lib)
	assert.Equal(t, lib, FindPreloadLib())

	t.Setenv(consts.EnvPreloadLib, lib+".missing")
	assert.Equal(t, "", FindPreloadLib())
}

func TestControlMsg(t *testing.T) {
	msg := controlMsg{Tid: 42, Type: timeline.DumpReasonDBus, Text: "org.freedesktop.DBus.Hello"}
	got, err := parseControlMsg(msg.encode())
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = parseControlMsg([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadControlMsg)

	bad := controlMsg{Tid: 1, Type: 0x1000, Text: "x"}
	_, err = parseControlMsg(bad.encode())
	assert.ErrorIs(t, err, ErrBadControlMsg)
}

// fakeMemory serves reads from a single mapped range.
type fakeMemory struct {
	base uint64
	data []byte
}

func (m *fakeMemory) read(addr uint64, buf []byte) (int, error) {
	if addr < m.base || addr >= m.base+uint64(len(m.data)) {
		return 0, os.ErrNotExist
	}

	return copy(buf, m.data[addr-m.base:]), nil
}

func TestParams(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, data: make([]byte, 0x100)}
	copy(mem.data, "/tmp/x\x00")
	copy(mem.data[0x80:], "hello world")

	var args [6]uint64
	args[0] = 0xffffff9c // AT_FDCWD
	args[1] = 0x1000
	got := entryParams(mem.read, "openat", args, 256)
	require.Len(t, got, 1)
	assert.Equal(t, "/tmp/x\x00", string(got[0].Data))
	assert.Equal(t, "arg1", got[0].Label)
	assert.False(t, got[0].Truncated)

	got = entryParams(mem.read, "openat", args, 4)
	require.Len(t, got, 1)
	assert.Equal(t, "/tmp", string(got[0].Data))
	assert.True(t, got[0].Truncated)

	args = [6]uint64{1, 0x1080, 11}
	got = entryParams(mem.read, "write", args, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, timeline.MemParam, got[0].Kind)
	assert.True(t, got[0].Truncated)

	assert.Empty(t, exitParams(mem.read, "write", args, 11, 256))
	assert.Empty(t, exitParams(mem.read, "read", args, -2, 256))

	got = exitParams(mem.read, "read", args, 5, 256)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Data))

	assert.Empty(t, entryParams(mem.read, "getpid", args, 256))
}

func TestCapturer(t *testing.T) {
	const stackStart, stackEnd = 0x7000, 0x8000
	mem := &fakeMemory{base: stackStart, data: make([]byte, stackEnd-stackStart)}
	for i := range mem.data {
		mem.data[i] = byte(i)
	}

	regions := []procfs.Region{
		{Start: 0x1000, End: 0x2000, Perms: "rw-p", Path: heapPath},
		{Start: stackStart, End: stackEnd, Perms: "rw-p", Path: "[stack]"},
	}

	arch := system.LookupArch(system.ArchNameAmd64)
	regs := make([]uint64, arch.Regs.Count)
	regs[arch.Regs.SP] = 0x7f00

	cfg := config.Default()
	cfg.MaxStackSize = 64
	c := &capturer{cfg: cfg, arch: arch, read: mem.read}

	m, ok := c.stack(regions, regs)
	require.True(t, ok)
	assert.Equal(t, uint64(0x7f00-redZoneAMD64), m.Addr)
	assert.Len(t, m.Data, 64)
	assert.True(t, m.Truncated)

	cfg.MaxStackSize = 4096
	m, ok = c.stack(regions, regs)
	require.True(t, ok)
	assert.Equal(t, uint64(stackEnd), m.End())
	assert.False(t, m.Truncated)

	regs[arch.Regs.SP] = 0x5000
	_, ok = c.stack(regions, regs)
	assert.False(t, ok)

	// the heap is not readable through fakeMemory
	cfg.MaxHeapSize = 16
	_, ok = c.heap(regions)
	assert.False(t, ok)

	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, 0x7010)
	copy(mem.data[0x800:], ptr)
	c.vars = []watchedVar{
		{spec: config.VarSpec{Name: "counter", MaxSize: 4}, addr: 0x7004},
		{spec: config.VarSpec{Name: "state", MaxSize: 2, IsPointer: true}, addr: 0x7800},
	}

	got := c.globals()
	require.Len(t, got, 3)
	assert.Equal(t, []byte{4, 5, 6, 7}, got[0].Data)
	assert.Equal(t, "state", got[1].Label)
	assert.Equal(t, "*state", got[2].Label)
	assert.Equal(t, []byte{0x10, 0x11}, got[2].Data)
}

// buildFixture compiles testdata/symbols with its symbol table intact.
func buildFixture(t *testing.T) string {
	t.Helper()

	goBin := filepath.Join(runtime.GOROOT(), "bin", "go")
	if _, err := os.Stat(goBin); err != nil {
		if goBin, err = exec.LookPath("go"); err != nil {
			t.Skip("no go toolchain to build the symbol fixture")
		}
	}

	out := filepath.Join(t.TempDir(), "symbols")
	cmd := exec.Command(goBin, "build", "-o", out, "./testdata/symbols")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOFLAGS=")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))

	return out
}

func TestSymbols(t *testing.T) {
	exe := buildFixture(t)

	syms, err := LoadSymbols(exe)
	require.NoError(t, err)
	require.NotZero(t, syms.Len())

	tt := []struct {
		name string
		fn   bool
	}{
		{name: "main.bump", fn: true},
		{name: "main.main", fn: true},
		{name: "main.counter", fn: false},
	}

	for _, test := range tt {
		sym, err := syms.Lookup(test.name, 0)
		require.NoError(t, err, test.name)
		assert.Equal(t, test.fn, sym.Func, test.name)
		assert.NotZero(t, sym.Value, test.name)

		relocated, err := syms.Lookup(test.name, 0x10000)
		require.NoError(t, err, test.name)
		if syms.PIE {
			assert.Equal(t, sym.Value+0x10000, relocated.Value, test.name)
		} else {
			assert.Equal(t, sym.Value, relocated.Value, test.name)
		}
	}

	counter, err := syms.Lookup("main.counter", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), counter.Size)

	_, err = syms.Lookup("no_such_symbol_here", 0)
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = LoadSymbols(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadBase(t *testing.T) {
	regions := []procfs.Region{
		{Start: 0x555555554000, End: 0x555555556000, Perms: "r--p", Path: "/bin/app"},
		{Start: 0x555555556000, End: 0x555555558000, Perms: "r-xp", Offset: 0x2000, Path: "/bin/app"},
		{Start: 0x7f0000000000, End: 0x7f0000001000, Perms: "r-xp", Offset: 0x1000, Path: "/lib/libc.so.6"},
	}

	base, ok := LoadBase(regions, "/bin/app")
	require.True(t, ok)
	assert.Equal(t, uint64(0x555555554000), base)

	base, ok = LoadBase(regions, "/lib/libc.so.6")
	require.True(t, ok)
	assert.Equal(t, uint64(0x7efffffff000), base)

	_, ok = LoadBase(regions, "/bin/other")
	assert.False(t, ok)
}

func TestDryRunSession(t *testing.T) {
	cfg := config.Default()
	cfg.DumpDir = filepath.Join(t.TempDir(), "dumps")

	s, err := NewSession(cfg, config.ModeDryRun, "/bin/true", nil)
	require.NoError(t, err)
	assert.Empty(t, s.Dir)
	assert.NoDirExists(t, cfg.DumpDir)

	p := s.openProcess(100, 0, "/bin/true")
	index, ok := s.appendEvent(p, timeline.EventEntry{Type: 39, Tid: 100, Result: 100}, nil)
	require.True(t, ok)
	assert.Equal(t, 0, index)

	index, _ = s.appendEvent(p, timeline.EventEntry{Type: timeline.SignalType(10), Tid: 100}, nil)
	assert.Equal(t, 1, index)
	assert.Equal(t, uint64(2), s.Report.EventCount)
	assert.Equal(t, uint64(1), s.Report.SignalCount)
	assert.Equal(t, uint64(1), s.Report.SyscallCount)

	require.NoError(t, s.Close("completed", nil))
}

func TestSessionFiles(t *testing.T) {
	cfg := config.Default()
	cfg.DumpDir = t.TempDir()
	cfg.CompressLevel = 3

	exe, err := os.Executable()
	require.NoError(t, err)

	s, err := NewSession(cfg, config.ModeNormal, exe, []string{"-v"})
	require.NoError(t, err)
	if s.Budget.Limit() == 0 {
		t.Skip("not enough free space for a recording")
	}

	assert.DirExists(t, s.Dir)
	link, err := os.Readlink(filepath.Join(cfg.DumpDir, consts.LatestLinkName))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(s.Dir), link)
	assert.Len(t, s.Report.Executable.Digest, 64)

	pid := os.Getpid()
	s.RootPid = pid
	p := s.openProcess(pid, 0, exe)
	s.snapshot(p)

	for i := 0; i < snapshotInterval; i++ {
		_, ok := s.appendEvent(p, timeline.EventEntry{Type: 9, Tid: int32(pid), Result: 0x7f0000000000}, &timeline.ExtraInfo{Args: make([]uint64, 6)})
		require.True(t, ok)
		s.mapChanged(p, false)
	}
	require.NoError(t, s.Close("completed", nil))

	tl, err := timeline.OpenDir(s.Dir, pid)
	require.NoError(t, err)
	defer tl.Close()

	assert.Equal(t, snapshotInterval, tl.Count())
	assert.Equal(t, exe, tl.ExecPath)
	require.Len(t, tl.Maps, 2)
	assert.Equal(t, 0, tl.Maps[0].EventIndex)
	assert.Equal(t, snapshotInterval, tl.Maps[1].EventIndex)
	assert.NotEmpty(t, tl.Maps[0].Regions)

	assert.FileExists(t, filepath.Join(s.Dir, consts.SessionFileName))
	assert.Equal(t, uint64(snapshotInterval), s.Report.Processes[strconv.Itoa(pid)].EventCount)
	assert.Positive(t, s.Report.BytesWritten)
}
