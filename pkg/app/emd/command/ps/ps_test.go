package ps

import (
	"debug/elf"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/report"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

func TestListProcesses(t *testing.T) {
	dir := t.TempDir()

	for pid, count := range map[int]int{100: 3, 104: 1} {
		w, err := timeline.Create(filepath.Join(dir, timeline.ContextFileName(pid)),
			timeline.WriterOptions{Pid: pid, Machine: elf.EM_X86_64})
		require.NoError(t, err)
		for i := 0; i < count; i++ {
			_, err := w.Append(timeline.EventEntry{Type: 39, Tid: int32(pid), Result: int64(pid)}, nil)
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())
	}
	require.NoError(t, timeline.WriteExecFile(dir, 100, "/bin/sh"))
	require.NoError(t, timeline.WriteExecFile(dir, 104, "/bin/ls"))

	rep := report.NewSessionReport(filepath.Join(dir, consts.SessionFileName))
	rep.RootPid = 100
	rep.Process(104).ParentPid = 100
	rep.Process(104).FatalSig = 11
	require.NoError(t, rep.Save())

	rows, err := ListProcesses(dir)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 100, rows[0].Pid)
	assert.True(t, rows[0].Root)
	assert.Equal(t, "/bin/sh", rows[0].Exe)
	assert.Equal(t, 3, rows[0].Events)
	assert.Greater(t, rows[0].Size, int64(0))

	assert.Equal(t, 104, rows[1].Pid)
	assert.False(t, rows[1].Root)
	assert.Equal(t, 100, rows[1].ParentPid)
	assert.Equal(t, 11, rows[1].FatalSig)
	assert.Equal(t, "/bin/ls", rows[1].Exe)
	assert.Equal(t, 1, rows[1].Events)
}

func TestListProcessesWithoutManifest(t *testing.T) {
	rows, err := ListProcesses(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
