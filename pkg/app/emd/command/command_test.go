package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/report"
)

func runFlags(t *testing.T, args ...string) (*config.Overrides, []string) {
	t.Helper()

	var (
		overrides *config.Overrides
		rest      []string
	)

	a := &cli.App{
		Name:  AppName,
		Flags: append(GlobalFlags(), RecordFlags()...),
		Action: func(ctx *cli.Context) error {
			overrides = RecordOverrides(ctx)
			rest = ctx.Args().Slice()
			return nil
		},
	}

	require.NoError(t, a.Run(append([]string{AppName}, args...)))
	return overrides, rest
}

func TestRecordOverrides(t *testing.T) {
	o, rest := runFlags(t,
		"-1", "--stack-size", "64", "--param-size=512",
		"--var", "*g_state:32", "--var", "counter",
		"--func", "main", "--vdso", "off", "--sys", "file,net", "--sig", "SIGUSR1",
		"./prog", "--stack-size", "1")

	require.NotNil(t, o.StackSizeKB)
	assert.Equal(t, 64, *o.StackSizeKB)
	assert.Nil(t, o.HeapSizeKB)
	require.NotNil(t, o.ParamSize)
	assert.Equal(t, 512, *o.ParamSize)
	assert.Equal(t, []string{"*g_state:32", "counter"}, o.Vars)
	assert.Equal(t, []string{"main"}, o.Funcs)
	assert.Equal(t, "off", o.VDSO)
	assert.Equal(t, "file,net", o.Syscalls)
	assert.Equal(t, "SIGUSR1", o.Sigs)
	assert.True(t, o.CurrentThreadOnly)

	// flags after the executable belong to it
	assert.Equal(t, []string{"./prog", "--stack-size", "1"}, rest)

	cfg := config.Default()
	require.NoError(t, cfg.Apply(o))
	assert.Equal(t, 64*1024, cfg.MaxStackSize)
	assert.Equal(t, 512, cfg.MaxParamSize)
	assert.False(t, cfg.HookVDSO)
	assert.Equal(t, []int{10}, cfg.Sigs)
	require.Len(t, cfg.Vars, 2)
	assert.True(t, cfg.Vars[0].IsPointer)
	assert.Equal(t, 32, cfg.Vars[0].MaxSize)
}

func TestRecordOverridesDefaults(t *testing.T) {
	o, rest := runFlags(t, "/bin/true")
	assert.Nil(t, o.StackSizeKB)
	assert.Nil(t, o.ParamSize)
	assert.Empty(t, o.Vars)
	assert.False(t, o.CurrentThreadOnly)
	assert.Equal(t, []string{"/bin/true"}, rest)

	cfg := config.Default()
	require.NoError(t, cfg.Apply(o))
	assert.Equal(t, config.Default(), cfg)
}

func TestResolveTraceDir(t *testing.T) {
	dumpDir := t.TempDir()
	cfg := config.Default()
	cfg.DumpDir = dumpDir

	_, err := ResolveTraceDir("", cfg)
	assert.Equal(t, ErrNoTraceDir, errors.Cause(err))

	_, err = ResolveTraceDir(filepath.Join(dumpDir, "nope"), cfg)
	assert.Equal(t, ErrNoTraceDir, errors.Cause(err))

	trace := filepath.Join(dumpDir, "app-1")
	require.NoError(t, os.Mkdir(trace, 0755))
	require.NoError(t, os.Symlink("app-1", filepath.Join(dumpDir, consts.LatestLinkName)))

	dir, err := ResolveTraceDir("", cfg)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(trace)
	assert.Equal(t, want, dir)

	dir, err = ResolveTraceDir(trace, cfg)
	require.NoError(t, err)
	assert.Equal(t, want, dir)
}

func TestResolvePid(t *testing.T) {
	dir := t.TempDir()

	_, err := ResolvePid(dir, "")
	assert.Equal(t, ErrNoPids, errors.Cause(err))

	for _, name := range []string{"context_30", "context_7", "maps_7", "exec_7"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	pid, err := ResolvePid(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 7, pid)

	rep := report.NewSessionReport(filepath.Join(dir, consts.SessionFileName))
	rep.RootPid = 30
	require.NoError(t, rep.Save())

	pid, err = ResolvePid(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 30, pid)

	pid, err = ResolvePid(dir, "99")
	require.NoError(t, err)
	assert.Equal(t, 99, pid)

	_, err = ResolvePid(dir, "x")
	assert.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	tt := []struct {
		params GenericParams
		level  log.Level
		err    bool
	}{
		{params: GenericParams{LogLevel: "warn"}, level: log.WarnLevel},
		{params: GenericParams{LogLevel: "trace"}, level: log.TraceLevel},
		{params: GenericParams{LogLevel: "error", Verbose: true}, level: log.InfoLevel},
		{params: GenericParams{LogLevel: "error", Debug: true, Verbose: true}, level: log.DebugLevel},
		{params: GenericParams{LogLevel: "loud"}, err: true},
		{params: GenericParams{LogLevel: "info", LogFormat: "xml"}, err: true},
		{params: GenericParams{LogLevel: "info", LogFormat: "json"}, level: log.InfoLevel},
	}

	for _, test := range tt {
		err := ConfigureLogging(&test.params)
		if test.err {
			assert.Error(t, err, "%+v", test.params)
			continue
		}

		require.NoError(t, err, "%+v", test.params)
		assert.Equal(t, test.level, log.GetLevel(), "%+v", test.params)
	}
}

func TestApplyLogConfig(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	log.SetLevel(log.WarnLevel)
	ApplyLogConfig(config.LogConfig{Level: "debug"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	ApplyLogConfig(config.LogConfig{Level: "bogus"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}
