package command

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/consts"
)

const AppName = consts.AppName

// Global flag names
const (
	FlagDebug     = "debug"
	FlagVerbose   = "verbose"
	FlagQuiet     = "quiet"
	FlagLogLevel  = "log-level"
	FlagLog       = "log"
	FlagLogFormat = "log-format"
	FlagNoColor   = "no-color"
	FlagConfig    = "config"
)

// Global flag usage info
const (
	FlagDebugUsage     = "enable debug logs"
	FlagVerboseUsage   = "enable info logs"
	FlagQuietUsage     = "only print the command output and errors"
	FlagLogLevelUsage  = "set the logging level ('trace', 'debug', 'info', 'warn' (default), 'error', 'fatal', 'panic')"
	FlagLogUsage       = "log file to store logs"
	FlagLogFormatUsage = "set the format used by logs ('text' (default), or 'json')"
	FlagNoColorUsage   = "disable color output"
	FlagConfigUsage    = "config file (default: $" + consts.EnvConfigFile + " or ~/" + consts.DefaultConfigFile + ")"
)

// Record flag names
const (
	FlagCurrentThread = "1"
	FlagStackSize     = "stack-size"
	FlagHeapSize      = "heap-size"
	FlagParamSize     = "param-size"
	FlagVar           = "var"
	FlagFunc          = "func"
	FlagVDSO          = "vdso"
	FlagSys           = "sys"
	FlagSig           = "sig"
	FlagDBus          = "dbus"
	FlagX11           = "x11"
	FlagMode          = "mode"
	FlagDumpDir       = "dump-dir"
)

// Record flag usage info
const (
	FlagCurrentThreadUsage = "only record events of the main thread (map changes are always recorded)"
	FlagStackSizeUsage     = "max stack bytes captured per event, in KB"
	FlagHeapSizeUsage      = "max heap bytes captured per event, in KB"
	FlagParamSizeUsage     = "max bytes captured per syscall buffer parameter"
	FlagVarUsage           = "global variable to capture, as [*]name[:max_size] ('*' follows a pointer)"
	FlagFuncUsage          = "function whose entry is recorded"
	FlagVDSOUsage          = "hook vDSO calls in the tracee (on|off)"
	FlagSysUsage           = "syscalls to record: names, numbers, ranges (a-b) or groups (file, net, ...), comma separated"
	FlagSigUsage           = "signals to record, comma separated (default: all)"
	FlagDBusUsage          = "dbus messages to record, comma separated"
	FlagX11Usage           = "x11 requests to record, comma separated"
	FlagModeUsage          = "recording mode ('dry_run', 'normal' or 'fast'; default: fast when the preload library is found)"
	FlagDumpDirUsage       = "directory holding the recordings"
)

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    FlagDebug,
			Usage:   FlagDebugUsage,
			EnvVars: []string{"EMD_DEBUG"},
		},
		&cli.BoolFlag{
			Name:    FlagVerbose,
			Usage:   FlagVerboseUsage,
			EnvVars: []string{"EMD_VERBOSE"},
		},
		&cli.BoolFlag{
			Name:    FlagQuiet,
			Usage:   FlagQuietUsage,
			EnvVars: []string{"EMD_QUIET"},
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Value:   "warn",
			Usage:   FlagLogLevelUsage,
			EnvVars: []string{"EMD_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:  FlagLog,
			Usage: FlagLogUsage,
		},
		&cli.StringFlag{
			Name:  FlagLogFormat,
			Value: "text",
			Usage: FlagLogFormatUsage,
		},
		&cli.BoolFlag{
			Name:  FlagNoColor,
			Usage: FlagNoColorUsage,
		},
		&cli.StringFlag{
			Name:  FlagConfig,
			Usage: FlagConfigUsage,
		},
	}
}

// RecordFlags are accepted both by 'record' and by the default action.
func RecordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  FlagCurrentThread,
			Usage: FlagCurrentThreadUsage,
		},
		&cli.IntFlag{
			Name:  FlagStackSize,
			Usage: FlagStackSizeUsage,
		},
		&cli.IntFlag{
			Name:  FlagHeapSize,
			Usage: FlagHeapSizeUsage,
		},
		&cli.IntFlag{
			Name:  FlagParamSize,
			Usage: FlagParamSizeUsage,
		},
		&cli.StringSliceFlag{
			Name:  FlagVar,
			Usage: FlagVarUsage,
		},
		&cli.StringSliceFlag{
			Name:  FlagFunc,
			Usage: FlagFuncUsage,
		},
		&cli.StringFlag{
			Name:  FlagVDSO,
			Usage: FlagVDSOUsage,
		},
		&cli.StringFlag{
			Name:  FlagSys,
			Usage: FlagSysUsage,
		},
		&cli.StringFlag{
			Name:  FlagSig,
			Usage: FlagSigUsage,
		},
		&cli.StringFlag{
			Name:  FlagDBus,
			Usage: FlagDBusUsage,
		},
		&cli.StringFlag{
			Name:  FlagX11,
			Usage: FlagX11Usage,
		},
		&cli.StringFlag{
			Name:    FlagMode,
			Usage:   FlagModeUsage,
			EnvVars: []string{"EMD_MODE"},
		},
		&cli.StringFlag{
			Name:    FlagDumpDir,
			Usage:   FlagDumpDirUsage,
			EnvVars: []string{"EMD_DUMP_DIR"},
		},
	}
}
