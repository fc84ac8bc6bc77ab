package dump

import (
	"bytes"
	"debug/elf"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimtoolkit/emd/pkg/timeline"
)

func writeTrace(t *testing.T) *timeline.Timeline {
	t.Helper()
	dir := t.TempDir()

	w, err := timeline.Create(filepath.Join(dir, timeline.ContextFileName(10)),
		timeline.WriterOptions{Pid: 10, Machine: elf.EM_X86_64})
	require.NoError(t, err)

	for _, e := range []timeline.EventEntry{
		{Type: 0, Tid: 10, Result: 12},
		{Type: 0, Tid: 10, Result: 0},
		{Type: 257, Tid: 10, Result: -2},
		{Type: timeline.SignalType(17), Tid: 10},
	} {
		_, err := w.Append(e, nil)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	tl, err := timeline.OpenDir(dir, 10)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return tl
}

func TestWriteEvents(t *testing.T) {
	tl := writeTrace(t)

	var out bytes.Buffer
	require.NoError(t, WriteEvents(&out, tl))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"#0 tid=10 read = 12",
		"#1 tid=10 read = 0",
		"#2 tid=10 openat = -2",
		"#3 tid=10 SIGCHLD",
	}, lines)
}

func TestSummarize(t *testing.T) {
	tl := writeTrace(t)

	assert.Equal(t, []nameCount{
		{name: "read", count: 2},
		{name: "SIGCHLD", count: 1},
		{name: "openat", count: 1},
	}, Summarize(tl))
}
