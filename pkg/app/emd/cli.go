package app

import (
	"github.com/urfave/cli/v2"

	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	"github.com/slimtoolkit/emd/pkg/app/emd/command/dump"
	"github.com/slimtoolkit/emd/pkg/app/emd/command/ps"
	"github.com/slimtoolkit/emd/pkg/app/emd/command/record"
	"github.com/slimtoolkit/emd/pkg/app/emd/command/replay"
	"github.com/slimtoolkit/emd/pkg/app/emd/command/version"
	"github.com/slimtoolkit/emd/pkg/system"
	v "github.com/slimtoolkit/emd/pkg/version"
)

// emd app CLI constants
const (
	AppName   = command.AppName
	AppUsage  = "record the events of a program and replay them as core files in a debugger"
	ArgsUsage = "[options] executable [args...]"
)

func newCLI() *cli.App {
	cliApp := cli.NewApp()
	cliApp.Version = v.Current()
	cliApp.Name = AppName
	cliApp.Usage = AppUsage
	cliApp.ArgsUsage = ArgsUsage
	cliApp.HideHelpCommand = true

	cliApp.Flags = append(command.GlobalFlags(), command.RecordFlags()...)

	cliApp.Before = func(ctx *cli.Context) error {
		gparams := command.GlobalFlagValues(ctx)
		if ctx.Bool(command.FlagNoColor) {
			app.NoColor()
		}

		if err := command.ConfigureLogging(gparams); err != nil {
			return err
		}

		if !command.LogFlagsSet(ctx) {
			command.ApplyLogConfig(command.LoadConfig(gparams).Log)
		}

		log.Debugf("sysinfo => %#v", system.GetSystemInfo())
		return nil
	}

	// 'emd [options] executable [args...]' records
	cliApp.Action = record.Action

	cliApp.Commands = []*cli.Command{
		record.CLI,
		ps.CLI,
		dump.CLI,
		replay.CLI,
		version.CLI,
	}

	return cliApp
}
