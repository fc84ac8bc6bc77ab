package recorder

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/coredump"
	"github.com/slimtoolkit/emd/pkg/launcher"
	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const helperEnv = "EMD_TEST_HELPER"

func TestMain(m *testing.M) {
	if launcher.IsChild() {
		launcher.RunChild()
	}

	switch os.Getenv(helperEnv) {
	case "":
	case "file":
		os.Exit(helperFile(os.Getenv("EMD_TEST_FILE")))
	case "signal":
		os.Exit(helperSignal())
	default:
		os.Exit(2)
	}

	os.Exit(m.Run())
}

// helperFile creates a file with exactly one open, one write and one close.
func helperFile(path string) int {
	fd, err := syscall.Open(path, syscall.O_CREAT|syscall.O_WRONLY|syscall.O_TRUNC, 0644)
	if err != nil {
		return 3
	}

	if _, err := syscall.Write(fd, []byte("emd\n")); err != nil {
		return 4
	}

	if err := syscall.Close(fd); err != nil {
		return 5
	}

	return 0
}

// helperSignal exits 0 only when its own SIGUSR1 handler ran.
func helperSignal() int {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		return 3
	}

	select {
	case <-ch:
		return 0
	case <-time.After(10 * time.Second):
		return 4
	}
}

func requireTracing(t *testing.T) {
	t.Helper()
	if os.Getenv("EMD_E2E") == "" {
		t.Skip("set EMD_E2E=1 to run tests that ptrace child processes")
	}
}

func recordHelper(t *testing.T, cfg *config.DumpConfig, env ...string) (*timeline.Timeline, int) {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	cfg.DumpDir = t.TempDir()
	rep, err := Record(context.Background(), cfg, Options{
		Path:   exe,
		Args:   []string{"-test.run=^$"},
		Env:    append(os.Environ(), env...),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	require.NoError(t, err)
	require.NotNil(t, rep)
	if rep.MaxDumpBytes == 0 {
		t.Skip("not enough free space for a recording")
	}

	assert.Equal(t, 0, rep.ExitCode)

	tl, err := timeline.OpenDir(rep.TraceDir, rep.RootPid)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })

	return tl, rep.RootPid
}

func TestRecordFileSyscalls(t *testing.T) {
	requireTracing(t)

	target := filepath.Join(t.TempDir(), "x")
	cfg := config.Default()
	cfg.Syscalls = system.GroupFile

	tl, pid := recordHelper(t, cfg, helperEnv+"=file", "EMD_TEST_FILE="+target)

	resolve := system.CallNumberResolver(system.CurrentArch().Name)
	var names []string
	for i := 0; i < tl.Count(); i++ {
		e, err := tl.Event(i)
		require.NoError(t, err)
		if _, ok := e.Syscall(); !ok {
			continue
		}

		x, err := tl.DecodeExtra(i)
		require.NoError(t, err)
		if x == nil || x.Path != target {
			continue
		}

		// any thread of the helper may run the calls
		tgid, err := procfs.ReadTgid(int(e.Tid))
		if err == nil {
			assert.Equal(t, pid, tgid)
		}
		assert.NotZero(t, e.Tid)
		assert.GreaterOrEqual(t, e.Result, int64(0))
		names = append(names, e.Name(resolve))
	}

	assert.Equal(t, []string{"openat", "write", "close"}, names)
}

func TestRecordSignalReinjected(t *testing.T) {
	requireTracing(t)

	cfg := config.Default()
	cfg.Sigs = []int{int(syscall.SIGUSR1)}

	// the helper exit code proves its handler ran
	tl, _ := recordHelper(t, cfg, helperEnv+"=signal")

	count := 0
	for _, e := range tl.Events() {
		if sig, ok := e.Signal(); ok {
			assert.Equal(t, int(syscall.SIGUSR1), sig)
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestCoreOfLastEvent(t *testing.T) {
	requireTracing(t)

	cfg := config.Default()
	cfg.Syscalls = system.GroupFile
	target := filepath.Join(t.TempDir(), "x")
	tl, _ := recordHelper(t, cfg, helperEnv+"=file", "EMD_TEST_FILE="+target)

	// the last event with registers
	index := -1
	var regs []uint64
	for i := tl.Count() - 1; i >= 0 && index < 0; i-- {
		x, err := tl.DecodeExtra(i)
		require.NoError(t, err)
		if x != nil && len(x.Regs) > 0 {
			index, regs = i, x.Regs
		}
	}
	require.GreaterOrEqual(t, index, 0)

	out := filepath.Join(t.TempDir(), "core")
	require.NoError(t, coredump.Generate(tl, index, out, false))

	f, err := elf.Open(out)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, elf.ET_CORE, f.Type)

	arch := system.CurrentArch()
	var pc uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}

		data := make([]byte, prog.Filesz)
		_, err := prog.ReadAt(data, 0)
		require.NoError(t, err)

		// first note: NT_PRSTATUS of the event thread
		namesz := binary.LittleEndian.Uint32(data)
		desc := data[12+((namesz+3)&^3):]
		pc = binary.LittleEndian.Uint64(desc[112+arch.Regs.PC*8:])
	}

	assert.Equal(t, arch.Regs.PCValue(regs), pc)
}
