package command

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/report"
	"github.com/slimtoolkit/emd/pkg/timeline"
	"github.com/slimtoolkit/emd/pkg/util/fsutil"
)

var (
	ErrNoTraceDir = errors.New("can't find directory")
	ErrNoPids     = errors.New("no recorded processes")
)

type GenericParams struct {
	Debug      bool
	Verbose    bool
	Quiet      bool
	LogLevel   string
	LogFormat  string
	Log        string
	ConfigFile string
}

func GlobalFlagValues(ctx *cli.Context) *GenericParams {
	values := GenericParams{
		Debug:      ctx.Bool(FlagDebug),
		Verbose:    ctx.Bool(FlagVerbose),
		Quiet:      ctx.Bool(FlagQuiet),
		LogLevel:   ctx.String(FlagLogLevel),
		LogFormat:  ctx.String(FlagLogFormat),
		Log:        ctx.String(FlagLog),
		ConfigFile: ctx.String(FlagConfig),
	}

	if values.ConfigFile == "" {
		values.ConfigFile = config.FilePath()
	}

	return &values
}

// LogFlagsSet reports whether any logging flag was given on the command line.
func LogFlagsSet(ctx *cli.Context) bool {
	for _, name := range []string{FlagDebug, FlagVerbose, FlagLogLevel, FlagLog, FlagLogFormat} {
		if ctx.IsSet(name) {
			return true
		}
	}

	return false
}

// LoadConfig reads the config file. A missing or broken file falls back to
// the defaults; only the broken case is worth a warning.
func LoadConfig(gparams *GenericParams) *config.DumpConfig {
	if gparams.ConfigFile == "" {
		return config.Default()
	}

	cfg, err := config.Load(gparams.ConfigFile)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			log.Debugf("emd: no config file (%s), using defaults", gparams.ConfigFile)
		} else {
			log.WithError(err).Warn("emd: config file ignored, using defaults")
		}
	}

	return cfg
}

// ResolveTraceDir picks the recording directory: the argument when given,
// otherwise the 'latest' link in the dump directory.
func ResolveTraceDir(arg string, cfg *config.DumpConfig) (string, error) {
	dir := arg
	if dir == "" {
		dir = filepath.Join(cfg.DumpDir, consts.LatestLinkName)
	}

	if !fsutil.DirExists(dir) {
		return dir, errors.Wrapf(ErrNoTraceDir, "`%s`", dir)
	}

	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	return dir, nil
}

// ResolvePid picks the process to open: the argument when given, otherwise
// the root process of the session, otherwise the lowest recorded pid.
func ResolvePid(dir, arg string) (int, error) {
	if arg != "" {
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			return 0, errors.Errorf("bad pid '%s'", arg)
		}
		return pid, nil
	}

	pids, err := timeline.ListPids(dir)
	if err != nil {
		return 0, err
	}

	if len(pids) == 0 {
		return 0, errors.Wrapf(ErrNoPids, "`%s`", dir)
	}

	if rep, err := report.LoadSessionReport(filepath.Join(dir, consts.SessionFileName)); err == nil {
		for _, pid := range pids {
			if pid == rep.RootPid {
				return pid, nil
			}
		}
	}

	return pids[0], nil
}
